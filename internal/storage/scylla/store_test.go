package scylla

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cedra_checkout/internal/models"
	"cedra_checkout/internal/storage"
)

func TestCounterFor(t *testing.T) {
	tests := []struct {
		name  string
		ref   models.InventoryRef
		table string
		where string
		args  []any
	}{
		{
			name:  "variant",
			ref:   models.InventoryRef{Kind: models.InventoryVariant, ID: "tee", Size: "M", Color: "noir"},
			table: "product_variants",
			where: "product_id = ? AND size = ? AND color = ?",
			args:  []any{"tee", "M", "noir"},
		},
		{
			name:  "product",
			ref:   models.InventoryRef{Kind: models.InventoryProduct, ID: "mug"},
			table: "products",
			where: "product_id = ?",
			args:  []any{"mug"},
		},
		{
			name:  "bundle",
			ref:   models.InventoryRef{Kind: models.InventoryBundle, ID: "duo"},
			table: "bundles",
			where: "bundle_id = ?",
			args:  []any{"duo"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := counterFor(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.table, c.table)
			assert.Equal(t, tt.where, c.where)
			assert.Equal(t, tt.args, c.args)
		})
	}

	_, err := counterFor(models.InventoryRef{Kind: "shelf", ID: "x"})
	assert.Error(t, err)
}

func TestPriceColumns(t *testing.T) {
	assert.Nil(t, priceColumn(decimal.Zero))
	require.NotNil(t, priceColumn(decimal.RequireFromString("19.90")))
	assert.Equal(t, "19.9", *priceColumn(decimal.RequireFromString("19.90")))

	p, err := parsePrice("")
	require.NoError(t, err)
	assert.True(t, p.IsZero())
	p, err = parsePrice("24.5")
	require.NoError(t, err)
	assert.Equal(t, "24.50", p.StringFixed(2))
	_, err = parsePrice("abc")
	assert.Error(t, err)
}

// Les tests suivants n'écrivent rien en base: seules les compensations
// inscrites au journal sont exercées.

func TestWithinTxCompensatesOnFailure(t *testing.T) {
	s := New(nil, nil, zap.NewNop())
	boom := errors.New("insert order: timeout")
	var undone []string

	err := s.WithinTx(context.Background(), func(ctx context.Context, st storage.Tx) error {
		j := st.(*tx).j
		for _, label := range []string{"stock tee", "stock mug", "order number", "discount"} {
			label := label
			j.push(label, func(context.Context) error {
				undone = append(undone, label)
				return nil
			})
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"discount", "order number", "stock mug", "stock tee"}, undone)
}

func TestWithinTxKeepsWritesOnSuccess(t *testing.T) {
	s := New(nil, nil, zap.NewNop())
	undone := 0

	err := s.WithinTx(context.Background(), func(ctx context.Context, st storage.Tx) error {
		st.(*tx).j.push("stock tee", func(context.Context) error { undone++; return nil })
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, undone)
}

func TestWithinTxReportsIncompleteCompensation(t *testing.T) {
	s := New(nil, nil, zap.NewNop())
	boom := errors.New("shipping detail taken")
	lost := errors.New("node down")

	err := s.WithinTx(context.Background(), func(ctx context.Context, st storage.Tx) error {
		j := st.(*tx).j
		j.push("stock tee", func(context.Context) error { return lost })
		j.push("order number", func(context.Context) error { return nil })
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, lost)
	assert.Contains(t, err.Error(), "compensation stock tee")
}
