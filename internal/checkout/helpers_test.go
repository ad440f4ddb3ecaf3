package checkout

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cedra_checkout/internal/models"
	"cedra_checkout/internal/stock"
	"cedra_checkout/internal/storage"
	"cedra_checkout/internal/storage/sqlite"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var (
	teeVariant = models.InventoryRef{Kind: models.InventoryVariant, ID: "tee", Size: "M", Color: "noir"}
	mugRef     = models.InventoryRef{Kind: models.InventoryProduct, ID: "mug"}
	posterRef  = models.InventoryRef{Kind: models.InventoryProduct, ID: "poster"}
	duoRef     = models.InventoryRef{Kind: models.InventoryBundle, ID: "duo"}
)

type recordingNotifier struct {
	mu     sync.Mutex
	placed []*models.Order
}

func (n *recordingNotifier) OrderPlaced(_ context.Context, order *models.Order, _ *models.ShippingDetail) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.placed = append(n.placed, order)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.placed)
}

type memoryCarts struct {
	mu      sync.Mutex
	cleared []string
}

func (c *memoryCarts) ClearCart(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, userID)
	return nil
}

type memoryMemo struct {
	mu sync.Mutex
	m  map[string]string
}

func (m *memoryMemo) RememberCheckout(_ context.Context, sessionID, orderNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.m == nil {
		m.m = map[string]string{}
	}
	m.m[sessionID] = orderNumber
	return nil
}

func (m *memoryMemo) LookupCheckout(_ context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[sessionID], nil
}

type fakeGateway struct {
	mu       sync.Mutex
	sessions map[string]*models.GatewayCheckout
	amounts  map[string]decimal.Decimal
}

func (g *fakeGateway) CreateSession(_ context.Context, intent models.CheckoutIntent, amount decimal.Decimal) (*models.GatewaySession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := "cs_test_" + uuid.NewString()[:8]
	if g.sessions == nil {
		g.sessions = map[string]*models.GatewayCheckout{}
		g.amounts = map[string]decimal.Decimal{}
	}
	intent.PaymentReference = id
	g.sessions[id] = &models.GatewayCheckout{SessionID: id, Intent: intent}
	g.amounts[id] = amount
	return &models.GatewaySession{ID: id, URL: "https://pay.example.com/" + id}, nil
}

func (g *fakeGateway) RetrieveSession(_ context.Context, sessionID string) (*models.GatewayCheckout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such session %s", sessionID)
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) pay(sessionID string) *models.GatewayCheckout {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[sessionID].Paid = true
	cp := *g.sessions[sessionID]
	return &cp
}

type fixture struct {
	store        *sqlite.Store
	materializer *Materializer
	gate         *Gate
	service      *Service
	notifier     *recordingNotifier
	carts        *memoryCarts
	memo         *memoryMemo
	gateway      *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	seedCatalog(t, store)
	return wire(t, store)
}

func wire(t *testing.T, store storage.Store) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		notifier: &recordingNotifier{},
		carts:    &memoryCarts{},
		memo:     &memoryMemo{},
		gateway:  &fakeGateway{},
	}
	if s, ok := store.(*sqlite.Store); ok {
		f.store = s
	}
	f.materializer = NewMaterializer(store, stock.NewLedger(logger), logger)
	f.gate = NewGate(store, f.materializer, f.notifier, f.carts, DefaultWindow, logger)
	f.service = NewService(store, f.gate, f.materializer, ServiceConfig{
		Gateway:      f.gateway,
		Memo:         f.memo,
		FallbackWait: 300 * time.Millisecond,
	}, logger)
	return f
}

func seedCatalog(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertProduct(ctx, models.InventoryRecord{Ref: models.InventoryRef{Kind: models.InventoryProduct, ID: "tee"}, Name: "T-shirt", Price: dec("20"), Quantity: 50}))
	require.NoError(t, store.UpsertVariant(ctx, models.InventoryRecord{Ref: teeVariant, Quantity: 3}))
	require.NoError(t, store.UpsertProduct(ctx, models.InventoryRecord{Ref: mugRef, Name: "Mug", Price: dec("12"), Quantity: 1}))
	require.NoError(t, store.UpsertProduct(ctx, models.InventoryRecord{Ref: posterRef, Name: "Poster", Price: dec("8"), Quantity: 10, LowStockThreshold: 2}))
	require.NoError(t, store.UpsertBundle(ctx, models.Bundle{
		ID:        "duo",
		Name:      "Duo posters",
		Inventory: models.InventoryRecord{Price: dec("30"), Quantity: 5},
		Items:     []models.BundleProduct{{ProductID: "poster", Quantity: 2}},
	}))

	once := 1
	codes := []models.DiscountCode{
		{Code: "WELCOME10", Type: models.DiscountPercentage, Value: dec("10"), IsActive: true, CanCumulate: true},
		{Code: "ONCE", Type: models.DiscountFixed, Value: dec("5"), IsActive: true, CanCumulate: true, RemainingUses: &once},
		{Code: "SHIPFREE", Type: models.DiscountFreeShipping, Value: decimal.Zero, IsActive: true, CanCumulate: true},
		{Code: "SOLO", Type: models.DiscountFixed, Value: dec("3"), IsActive: true},
	}
	for _, c := range codes {
		require.NoError(t, store.UpsertDiscountCode(ctx, c))
	}
}

func (f *fixture) newDetail(t *testing.T) string {
	t.Helper()
	d := &models.ShippingDetail{
		ID:         uuid.NewString(),
		FullName:   "Claire Dubois",
		Email:      "claire@example.com",
		Phone:      "+33600000000",
		Street:     "12 avenue Foch",
		City:       "Nantes",
		PostalCode: "44000",
		Country:    "FR",
	}
	require.NoError(t, f.store.CreateShippingDetail(context.Background(), d))
	return d.ID
}

func (f *fixture) quantity(t *testing.T, ref models.InventoryRef) int {
	t.Helper()
	rec, err := f.store.GetInventory(context.Background(), ref)
	require.NoError(t, err)
	return rec.Quantity
}

func (f *fixture) remainingUses(t *testing.T, code string) int {
	t.Helper()
	codes, err := f.store.GetDiscountCodes(context.Background(), []string{code})
	require.NoError(t, err)
	require.NotNil(t, codes[code].RemainingUses)
	return *codes[code].RemainingUses
}

func intent(detailID string, paymentType models.PaymentType, lines ...models.CartLine) models.CheckoutIntent {
	return models.CheckoutIntent{
		ShippingDetailID: detailID,
		PaymentType:      paymentType,
		Lines:            lines,
		ShippingCost:     dec("4.90"),
	}
}

func teeLine(qty int) models.CartLine {
	return models.NewRegularLine("tee", "M", "noir", qty, dec("20"))
}
