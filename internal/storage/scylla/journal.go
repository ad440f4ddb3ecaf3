package scylla

import (
	"context"
	"errors"
	"fmt"
)

// journal garde les écritures de compensation d'une unité de travail.
// ScyllaDB n'a pas de transaction multi-partitions: chaque écriture réussie
// enregistre son inverse, rejoué en ordre inverse si l'unité échoue.
type journal struct {
	undo []undoStep
}

type undoStep struct {
	label string
	run   func(ctx context.Context) error
}

func (j *journal) push(label string, run func(ctx context.Context) error) {
	j.undo = append(j.undo, undoStep{label: label, run: run})
}

// rollback rejoue toutes les compensations, même si certaines échouent.
func (j *journal) rollback(ctx context.Context) error {
	var errs []error
	for i := len(j.undo) - 1; i >= 0; i-- {
		step := j.undo[i]
		if err := step.run(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensation %s: %w", step.label, err))
		}
	}
	j.undo = nil
	return errors.Join(errs...)
}

func (j *journal) len() int { return len(j.undo) }
