package utils

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"cedra_checkout/internal/models"
)

func sampleOrder() (*models.Order, *models.ShippingDetail) {
	order := &models.Order{
		OrderNumber:  "CMD-20260101-ABCDEF",
		Total:        decimal.RequireFromString("40.9"),
		ShippingCost: decimal.RequireFromString("4.9"),
		PaymentType:  models.PaymentTypeCashOnDelivery,
		OrderStatus:  models.OrderStatusShipped,
		LineItems: []models.OrderLineItem{
			{ProductID: "tee", Size: "M", Color: "noir", Quantity: 2, UnitPrice: decimal.NewFromInt(20)},
		},
		BundleItems: []models.OrderBundleItem{{BundleID: "duo", Quantity: 1, UnitPrice: decimal.NewFromInt(30)}},
		Courier:        "Colissimo",
		TrackingNumber: "6A123",
	}
	detail := &models.ShippingDetail{FullName: "Claire <Dubois>", Email: "claire@example.com", City: "Nantes"}
	return order, detail
}

func TestOrderConfirmationEmail(t *testing.T) {
	order, detail := sampleOrder()
	subject, html, err := OrderConfirmationEmail(order, detail)
	require.NoError(t, err)
	assert.Contains(t, subject, order.OrderNumber)
	assert.Contains(t, html, "tee (M, noir)")
	assert.Contains(t, html, "Pack duo")
	assert.Contains(t, html, "40.90 €")
	assert.Contains(t, html, "paiement se fera à la livraison")
	assert.Contains(t, html, "Claire &lt;Dubois&gt;")
}

func TestOrderStatusEmail(t *testing.T) {
	order, detail := sampleOrder()
	subject, html, err := OrderStatusEmail(order, detail)
	require.NoError(t, err)
	assert.Contains(t, subject, "expédiée")
	assert.Contains(t, html, "6A123")

	order.OrderStatus = models.OrderStatusRefunded
	subject, _, err = OrderStatusEmail(order, nil)
	require.NoError(t, err)
	assert.Contains(t, subject, "Remboursement")
}

func TestBuildMessage(t *testing.T) {
	msg, err := BuildMessage("noreply@eldocam.com", "claire@example.com", "Sujet", "<p>ok</p>")
	require.NoError(t, err)
	assert.Equal(t, []string{"Sujet"}, msg.GetGenHeader(mail.HeaderSubject))

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "<p>ok</p>")

	_, err = BuildMessage("noreply@eldocam.com", "not an address", "Sujet", "")
	assert.Error(t, err)
}
