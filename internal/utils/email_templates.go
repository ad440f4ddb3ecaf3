package utils

import (
	"bytes"
	"html/template"

	"github.com/shopspring/decimal"

	"cedra_checkout/internal/models"
)

const layout = `{{define "layout"}}<!DOCTYPE html>
<html lang="fr">
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<title>{{.Title}}</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; background-color: #f5f5f5;">
	<div style="max-width: 600px; margin: 40px auto; background-color: #ffffff; padding: 30px; border-radius: 12px;">
		<h2 style="color: #333333;">{{.Title}}</h2>
		{{template "content" .}}
		<p style="margin-top: 30px; color: #555555;">Cordialement,<br><strong>L'équipe Cedra</strong></p>
	</div>
</body>
</html>{{end}}`

const itemsTable = `{{define "items"}}
<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
	<thead>
		<tr style="background-color: #f0f0f0;">
			<th style="padding: 10px; text-align: left; border: 1px solid #ddd;">Article</th>
			<th style="padding: 10px; text-align: left; border: 1px solid #ddd;">Quantité</th>
			<th style="padding: 10px; text-align: left; border: 1px solid #ddd;">Prix unitaire</th>
		</tr>
	</thead>
	<tbody>
	{{range .Order.LineItems}}
		<tr>
			<td style="padding: 10px; border: 1px solid #ddd;">{{.ProductID}}{{if .Size}} ({{.Size}}{{if .Color}}, {{.Color}}{{end}}){{end}}</td>
			<td style="padding: 10px; border: 1px solid #ddd;">{{.Quantity}}</td>
			<td style="padding: 10px; border: 1px solid #ddd;">{{euro .UnitPrice}}</td>
		</tr>
	{{end}}
	{{range .Order.BundleItems}}
		<tr>
			<td style="padding: 10px; border: 1px solid #ddd;">Pack {{.BundleID}}</td>
			<td style="padding: 10px; border: 1px solid #ddd;">{{.Quantity}}</td>
			<td style="padding: 10px; border: 1px solid #ddd;">{{euro .UnitPrice}}</td>
		</tr>
	{{end}}
	</tbody>
	<tfoot>
		{{range .Order.Discounts}}
		<tr><td colspan="2" style="padding: 10px; text-align: right;">Code {{.Code}}</td><td style="padding: 10px;">-{{euro .Amount}}</td></tr>
		{{end}}
		<tr><td colspan="2" style="padding: 10px; text-align: right;">Livraison</td><td style="padding: 10px;">{{euro .Order.ShippingCost}}</td></tr>
		<tr><td colspan="2" style="padding: 10px; text-align: right; font-weight: bold;">Total</td><td style="padding: 10px; font-weight: bold;">{{euro .Order.Total}}</td></tr>
	</tfoot>
</table>{{end}}`

const confirmationContent = `{{define "content"}}
<p>Bonjour {{.Detail.FullName}},</p>
<p>Votre commande <strong>{{.Order.OrderNumber}}</strong> a bien été enregistrée.</p>
{{if eq .Order.PaymentType "cash_on_delivery"}}<p>Le paiement se fera à la livraison.</p>{{else}}<p>Votre paiement par carte est confirmé.</p>{{end}}
{{template "items" .}}
<p>Livraison: {{.Detail.Street}}, {{.Detail.PostalCode}} {{.Detail.City}}, {{.Detail.Country}}</p>
{{end}}`

const adminContent = `{{define "content"}}
<p>Nouvelle commande <strong>{{.Order.OrderNumber}}</strong> ({{.Order.PaymentType}}, {{.Order.PaymentStatus}}).</p>
<p>Client: {{.Detail.FullName}} &lt;{{.Detail.Email}}&gt; {{.Detail.Phone}}</p>
{{template "items" .}}
{{end}}`

const statusContent = `{{define "content"}}
<p>Bonjour {{.Detail.FullName}},</p>
<p>{{.Message}}</p>
{{if .Order.TrackingNumber}}<p>Transporteur: <strong>{{.Order.Courier}}</strong><br>Numéro de suivi: <strong>{{.Order.TrackingNumber}}</strong></p>{{end}}
<p>Commande <strong>{{.Order.OrderNumber}}</strong>, total {{euro .Order.Total}}.</p>
{{end}}`

var funcs = template.FuncMap{
	"euro": func(d decimal.Decimal) string { return d.StringFixed(2) + " €" },
}

var (
	confirmationTmpl = mustParse(confirmationContent)
	adminTmpl        = mustParse(adminContent)
	statusTmpl       = mustParse(statusContent)
)

func mustParse(content string) *template.Template {
	return template.Must(template.New("email").Funcs(funcs).Parse(layout + itemsTable + content))
}

type emailData struct {
	Title   string
	Message string
	Order   *models.Order
	Detail  *models.ShippingDetail
}

func render(t *template.Template, data emailData) (string, error) {
	if data.Detail == nil {
		data.Detail = &models.ShippingDetail{}
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// OrderConfirmationEmail retourne le sujet et le HTML envoyés à l'acheteur.
func OrderConfirmationEmail(order *models.Order, detail *models.ShippingDetail) (string, string, error) {
	subject := "✅ Confirmation de votre commande " + order.OrderNumber + " - Cedra"
	html, err := render(confirmationTmpl, emailData{Title: "Confirmation de votre commande", Order: order, Detail: detail})
	return subject, html, err
}

func AdminOrderEmail(order *models.Order, detail *models.ShippingDetail) (string, string, error) {
	subject := "🛒 Nouvelle commande " + order.OrderNumber
	html, err := render(adminTmpl, emailData{Title: "Nouvelle commande", Order: order, Detail: detail})
	return subject, html, err
}

func OrderStatusEmail(order *models.Order, detail *models.ShippingDetail) (string, string, error) {
	html, err := render(statusTmpl, emailData{
		Title:   "Mise à jour de votre commande",
		Message: statusMessage(order.OrderStatus),
		Order:   order,
		Detail:  detail,
	})
	return statusSubject(order.OrderStatus), html, err
}

func statusSubject(status models.OrderStatus) string {
	switch status {
	case models.OrderStatusShipped:
		return "📦 Votre commande a été expédiée - Cedra"
	case models.OrderStatusFulfilled:
		return "🎉 Votre commande a été livrée - Cedra"
	case models.OrderStatusCancelled:
		return "❌ Commande annulée - Cedra"
	case models.OrderStatusRefunded:
		return "💰 Remboursement effectué - Cedra"
	default:
		return "📋 Mise à jour de votre commande - Cedra"
	}
}

func statusMessage(status models.OrderStatus) string {
	switch status {
	case models.OrderStatusShipped:
		return "Bonne nouvelle, votre commande est en route !"
	case models.OrderStatusFulfilled:
		return "Votre commande a été livrée. Merci pour votre confiance."
	case models.OrderStatusCancelled:
		return "Votre commande a été annulée."
	case models.OrderStatusRefunded:
		return "Votre commande a été remboursée."
	default:
		return "Votre commande est en cours de traitement."
	}
}
