package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cedra_checkout/internal/models"
)

func TestPlaceCashOnDeliveryForcesPaymentType(t *testing.T) {
	f := newFixture(t)
	in := intent(f.newDetail(t), models.PaymentTypeCard, teeLine(1))
	in.PaymentReference = "ignored"

	res, err := f.service.PlaceCashOnDelivery(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentTypeCashOnDelivery, res.Order.PaymentType)
	assert.Equal(t, models.PaymentStatusPending, res.Order.PaymentStatus)
	assert.Empty(t, res.Order.PaymentReference)

	found, err := f.service.OrderByNumber(context.Background(), res.Order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, found.ID)
}

func TestPlaceCashOnDeliveryIgnoresClientPrices(t *testing.T) {
	f := newFixture(t)
	in := intent(f.newDetail(t), models.PaymentTypeCashOnDelivery,
		models.NewRegularLine("tee", "M", "noir", 3, dec("0.01")),
		models.NewBundleLine("duo", 1, dec("0")))

	res, err := f.service.PlaceCashOnDelivery(context.Background(), in)
	require.NoError(t, err)
	// 3 × 20 + 30 + 4.90
	assert.Equal(t, "94.90", res.Order.Total.StringFixed(2))
	assert.Equal(t, "90.00", res.Order.Subtotal.StringFixed(2))
	require.Len(t, res.Order.LineItems, 1)
	assert.Equal(t, "20.00", res.Order.LineItems[0].UnitPrice.StringFixed(2))
	require.Len(t, res.Order.BundleItems, 1)
	assert.Equal(t, "30.00", res.Order.BundleItems[0].UnitPrice.StringFixed(2))
}

func TestPlaceCashOnDeliveryUnknownItem(t *testing.T) {
	f := newFixture(t)
	in := intent(f.newDetail(t), models.PaymentTypeCashOnDelivery, models.NewRegularLine("ghost", "", "", 1, dec("1")))

	_, err := f.service.PlaceCashOnDelivery(context.Background(), in)
	assert.Equal(t, KindRejected, KindOf(err))
}

func TestStartCardCheckoutChargesCatalogPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := intent(f.newDetail(t), models.PaymentTypeCard, models.NewRegularLine("tee", "M", "noir", 2, dec("0.01")))

	session, err := f.service.StartCardCheckout(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "44.90", f.gateway.amounts[session.ID].StringFixed(2))

	// le webhook reprend les prix figés dans la session
	res, err := f.service.ConfirmCardPayment(ctx, f.gateway.pay(session.ID))
	require.NoError(t, err)
	assert.Equal(t, "44.90", res.Order.Total.StringFixed(2))
	assert.Equal(t, "20.00", res.Order.LineItems[0].UnitPrice.StringFixed(2))
}

func TestOrderByNumberUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.OrderByNumber(context.Background(), "CMD-20260101-ABCDEF")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestStartCardCheckoutQuotesWithoutWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := intent(f.newDetail(t), models.PaymentTypeCard, teeLine(2))
	in.DiscountCodes = []string{"SHIPFREE"}

	session, err := f.service.StartCardCheckout(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, session.URL)
	assert.Equal(t, "40.00", f.gateway.amounts[session.ID].StringFixed(2))
	assert.Equal(t, 3, f.quantity(t, teeVariant))

	_, err = f.gate.Lookup(ctx, in.ShippingDetailID)
	assert.Error(t, err)
}

func TestStartCardCheckoutRejectsBadIntent(t *testing.T) {
	f := newFixture(t)
	in := intent(f.newDetail(t), models.PaymentTypeCard, models.NewRegularLine("tee", "M", "noir", 1, dec("20")))
	in.DiscountCodes = []string{"GHOST"}

	_, err := f.service.StartCardCheckout(context.Background(), in)
	assert.Equal(t, KindRejected, KindOf(err))
	assert.Empty(t, f.gateway.sessions)
}

func TestConfirmCardPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := intent(f.newDetail(t), models.PaymentTypeCard, teeLine(1))
	in.DiscountCodes = []string{"ONCE"}

	session, err := f.service.StartCardCheckout(ctx, in)
	require.NoError(t, err)
	paid := f.gateway.pay(session.ID)

	first, err := f.service.ConfirmCardPayment(ctx, paid)
	require.NoError(t, err)
	assert.False(t, first.Existing)
	assert.Equal(t, models.PaymentStatusCompleted, first.Order.PaymentStatus)
	assert.Equal(t, session.ID, first.Order.PaymentReference)

	replay, err := f.service.ConfirmCardPayment(ctx, paid)
	require.NoError(t, err)
	assert.True(t, replay.Existing)
	assert.Equal(t, first.Order.ID, replay.Order.ID)

	assert.Equal(t, 2, f.quantity(t, teeVariant))
	assert.Equal(t, 0, f.remainingUses(t, "ONCE"))
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, first.Order.OrderNumber, f.memo.m[session.ID])
}

func TestConfirmCardPaymentReplayedDaysLater(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, err := f.service.StartCardCheckout(ctx, intent(f.newDetail(t), models.PaymentTypeCard, teeLine(1)))
	require.NoError(t, err)
	paid := f.gateway.pay(session.ID)

	first, err := f.service.ConfirmCardPayment(ctx, paid)
	require.NoError(t, err)

	f.gate.now = func() time.Time { return time.Now().Add(72 * time.Hour) }
	replay, err := f.service.ConfirmCardPayment(ctx, paid)
	require.NoError(t, err)
	assert.True(t, replay.Existing)
	assert.Equal(t, first.Order.ID, replay.Order.ID)
	assert.Equal(t, 2, f.quantity(t, teeVariant))
}

func TestConfirmCardPaymentRequiresPaidSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, err := f.service.StartCardCheckout(ctx, intent(f.newDetail(t), models.PaymentTypeCard, teeLine(1)))
	require.NoError(t, err)

	unpaid, err := f.gateway.RetrieveSession(ctx, session.ID)
	require.NoError(t, err)
	_, err = f.service.ConfirmCardPayment(ctx, unpaid)
	assert.Equal(t, KindPaymentPending, KindOf(err))
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)

	_, err = f.service.ResolveSuccess(ctx, session.ID)
	assert.Equal(t, KindPaymentPending, KindOf(err))
	assert.Equal(t, 3, f.quantity(t, teeVariant))
}

func TestResolveSuccessMaterializesWhenWebhookIsLate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, err := f.service.StartCardCheckout(ctx, intent(f.newDetail(t), models.PaymentTypeCard, teeLine(1)))
	require.NoError(t, err)
	paid := f.gateway.pay(session.ID)

	res, err := f.service.ResolveSuccess(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, res.Existing)

	// le webhook arrive après coup
	late, err := f.service.ConfirmCardPayment(ctx, paid)
	require.NoError(t, err)
	assert.True(t, late.Existing)
	assert.Equal(t, res.Order.ID, late.Order.ID)

	// rechargement de la page de succès: servi par le cache de session
	reload, err := f.service.ResolveSuccess(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, reload.Existing)
	assert.Equal(t, res.Order.ID, reload.Order.ID)

	assert.Equal(t, 2, f.quantity(t, teeVariant))
	assert.Equal(t, 1, f.notifier.count())
}

func TestResolveSuccessWaitsForWebhook(t *testing.T) {
	f := newFixture(t)
	f.service.fallbackWait = 3 * time.Second
	ctx := context.Background()
	session, err := f.service.StartCardCheckout(ctx, intent(f.newDetail(t), models.PaymentTypeCard, teeLine(1)))
	require.NoError(t, err)
	paid := f.gateway.pay(session.ID)

	webhook := make(chan models.MaterializationResult, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		res, err := f.service.ConfirmCardPayment(context.Background(), paid)
		assert.NoError(t, err)
		webhook <- res
	}()

	res, err := f.service.ResolveSuccess(ctx, session.ID)
	require.NoError(t, err)
	fromWebhook := <-webhook
	assert.Equal(t, fromWebhook.Order.ID, res.Order.ID)
	assert.Equal(t, 2, f.quantity(t, teeVariant))
	assert.Equal(t, 1, f.notifier.count())
}

func TestResolveSuccessUnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.ResolveSuccess(context.Background(), "cs_test_missing")
	assert.Equal(t, KindNotFound, KindOf(err))
}
