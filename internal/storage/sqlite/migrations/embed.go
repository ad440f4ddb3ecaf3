package migrations

import "embed"

// FS contient les migrations SQLite du pipeline de commande.
//
//go:embed *.sql
var FS embed.FS
