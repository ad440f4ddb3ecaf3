package lifecycle

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cedra_checkout/internal/models"
	"cedra_checkout/internal/storage"
	"cedra_checkout/internal/storage/sqlite"
)

var now = time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		from    models.OrderStatus
		cmd     Command
		wantErr error
	}{
		{name: "ship", from: models.OrderStatusProcessing, cmd: Command{To: models.OrderStatusShipped, Courier: "Colissimo", TrackingNumber: "6A123"}},
		{name: "ship without tracking", from: models.OrderStatusProcessing, cmd: Command{To: models.OrderStatusShipped, Courier: "Colissimo"}, wantErr: ErrTrackingRequired},
		{name: "deliver", from: models.OrderStatusShipped, cmd: Command{To: models.OrderStatusFulfilled}},
		{name: "skip shipping", from: models.OrderStatusProcessing, cmd: Command{To: models.OrderStatusFulfilled}, wantErr: ErrInvalidTransition},
		{name: "cancel processing", from: models.OrderStatusProcessing, cmd: Command{To: models.OrderStatusCancelled}},
		{name: "refund shipped", from: models.OrderStatusShipped, cmd: Command{To: models.OrderStatusRefunded}},
		{name: "back to processing", from: models.OrderStatusShipped, cmd: Command{To: models.OrderStatusProcessing}, wantErr: ErrInvalidTransition},
		{name: "cancel fulfilled", from: models.OrderStatusFulfilled, cmd: Command{To: models.OrderStatusCancelled}, wantErr: ErrTerminalState},
		{name: "refund cancelled", from: models.OrderStatusCancelled, cmd: Command{To: models.OrderStatusRefunded}, wantErr: ErrTerminalState},
		{name: "ship refunded", from: models.OrderStatusRefunded, cmd: Command{To: models.OrderStatusShipped, Courier: "UPS", TrackingNumber: "1Z"}, wantErr: ErrTerminalState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &models.Order{OrderStatus: tt.from, PaymentStatus: models.PaymentStatusPending}
			err := Apply(order, tt.cmd, now)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.from, order.OrderStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cmd.To, order.OrderStatus)
			assert.Equal(t, now, order.UpdatedAt)
		})
	}
}

func TestApplyFulfilledCompletesPayment(t *testing.T) {
	order := &models.Order{OrderStatus: models.OrderStatusShipped, PaymentStatus: models.PaymentStatusPending}
	require.NoError(t, Apply(order, Command{To: models.OrderStatusFulfilled}, now))
	assert.Equal(t, models.PaymentStatusCompleted, order.PaymentStatus)
}

type recorder struct {
	mu    sync.Mutex
	calls []models.OrderStatus
}

func (r *recorder) OrderStatusChanged(_ context.Context, order *models.Order, _ models.OrderStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, order.OrderStatus)
}

func setup(t *testing.T) (*Service, *sqlite.Store, *recorder) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "lifecycle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	rec := &recorder{}
	return NewService(store, rec, zap.NewNop()), store, rec
}

func seedOrder(t *testing.T, store *sqlite.Store) *models.Order {
	t.Helper()
	ctx := context.Background()
	detail := &models.ShippingDetail{
		ID: uuid.NewString(), FullName: "Paul", Email: "paul@example.com",
		Street: "2 rue Haute", City: "Lyon", PostalCode: "69001", Country: "FR",
	}
	require.NoError(t, store.CreateShippingDetail(ctx, detail))

	order := &models.Order{
		ID:               uuid.NewString(),
		OrderNumber:      "CMD-TEST-" + uuid.NewString()[:6],
		Total:            decimal.NewFromInt(30),
		Subtotal:         decimal.NewFromInt(25),
		ShippingCost:     decimal.NewFromInt(5),
		PaymentStatus:    models.PaymentStatusPending,
		OrderStatus:      models.OrderStatusProcessing,
		PaymentType:      models.PaymentTypeCashOnDelivery,
		OrderType:        models.OrderTypeProduct,
		ShippingDetailID: detail.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertOrder(ctx, order)
	}))
	return order
}

func TestServiceFullLifecycle(t *testing.T) {
	svc, store, rec := setup(t)
	ctx := context.Background()
	order := seedOrder(t, store)

	_, err := svc.Transition(ctx, order.ID, Command{To: models.OrderStatusShipped, Courier: "DHL", TrackingNumber: "JD0001"})
	require.NoError(t, err)
	done, err := svc.Transition(ctx, order.ID, Command{To: models.OrderStatusFulfilled})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, done.PaymentStatus)

	stored, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFulfilled, stored.OrderStatus)
	assert.Equal(t, "JD0001", stored.TrackingNumber)

	_, err = svc.Transition(ctx, order.ID, Command{To: models.OrderStatusCancelled})
	assert.ErrorIs(t, err, ErrTerminalState)
	assert.Equal(t, []models.OrderStatus{models.OrderStatusShipped, models.OrderStatusFulfilled}, rec.calls)
}

func TestServiceUnknownOrder(t *testing.T) {
	svc, _, _ := setup(t)
	_, err := svc.Transition(context.Background(), "missing", Command{To: models.OrderStatusCancelled})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancelManyReportsEachOrder(t *testing.T) {
	svc, store, _ := setup(t)
	ctx := context.Background()
	open := seedOrder(t, store)
	closed := seedOrder(t, store)
	_, err := svc.Transition(ctx, closed.ID, Command{To: models.OrderStatusRefunded})
	require.NoError(t, err)

	results := svc.CancelMany(ctx, []string{open.ID, closed.ID, "missing"})
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, models.OrderStatusCancelled, results[0].Order.OrderStatus)
	assert.ErrorIs(t, results[1].Err, ErrTerminalState)
	assert.ErrorIs(t, results[2].Err, ErrOrderNotFound)
}
