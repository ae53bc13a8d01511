package render

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/storefront/models"
)

func snapshot() *models.InventorySnapshot {
	return &models.InventorySnapshot{
		Locations: []models.StockLocation{
			{ID: "1", Name: "North", Quantity: 5, UnitPrice: decimal.NewFromInt(1000)},
			{ID: "2", Name: "South", Quantity: 8, UnitPrice: decimal.NewFromInt(1200)},
			{ID: "3", Name: "Northeast", Quantity: 1, UnitPrice: decimal.NewFromInt(1100)},
		},
		Warehouse: models.StockLocation{ID: models.WarehouseID, Quantity: 50, UnitPrice: decimal.NewFromInt(900)},
	}
}

func ids(rows []Row) []models.LocationID {
	out := make([]models.LocationID, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ID)
	}
	return out
}

func TestRenderAll_PreservesOrderAndOffersWarehouse(t *testing.T) {
	r := New(zap.NewNop())
	r.RenderAll(snapshot())

	view := r.View()
	assert.Equal(t, []models.LocationID{"1", "2", "3"}, ids(view.Rows))
	require.NotNil(t, view.Warehouse)
	assert.Equal(t, 50, view.Warehouse.Quantity)

	require.Len(t, view.Choices, 4)
	assert.Equal(t, models.WarehouseID, view.Choices[3].ID)
}

func TestRenderFiltered(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []models.LocationID
	}{
		{"empty query returns everything", "", []models.LocationID{"1", "2", "3"}},
		{"case insensitive substring", "NORTH", []models.LocationID{"1", "3"}},
		{"middle of the name", "uth", []models.LocationID{"2"}},
		{"no match", "west", []models.LocationID{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(zap.NewNop())
			r.RenderAll(snapshot())

			rows := r.RenderFiltered(snapshot(), tt.query)

			assert.Equal(t, tt.want, ids(rows))
		})
	}
}

func TestRenderFiltered_LeavesChoicesAlone(t *testing.T) {
	r := New(zap.NewNop())
	r.RenderAll(snapshot())
	before := r.View().Choices

	r.RenderFiltered(snapshot(), "south")

	assert.Equal(t, before, r.View().Choices)
	assert.Equal(t, "south", r.Query())
}

func TestHighlight_UpdatesInPlaceAndClears(t *testing.T) {
	r := New(zap.NewNop(), WithHighlightDuration(20*time.Millisecond))
	r.RenderAll(snapshot())
	r.RenderFiltered(snapshot(), "north")

	ok := r.Highlight("1", 2)

	require.True(t, ok)
	view := r.View()
	assert.Equal(t, 2, view.Rows[0].Quantity)
	assert.True(t, view.Rows[0].Highlighted)
	assert.False(t, view.Rows[1].Highlighted)
	assert.Equal(t, "north", view.Query)

	assert.Eventually(t, func() bool {
		return !r.View().Rows[0].Highlighted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, r.View().Rows[0].Quantity)
}

func TestHighlight_Warehouse(t *testing.T) {
	r := New(zap.NewNop(), WithHighlightDuration(time.Hour))
	defer r.Close()
	r.RenderAll(snapshot())

	require.True(t, r.Highlight(models.WarehouseID, 44))

	view := r.View()
	assert.Equal(t, 44, view.Warehouse.Quantity)
	assert.True(t, view.Warehouse.Highlighted)
}

func TestHighlight_HiddenRowIsIgnored(t *testing.T) {
	r := New(zap.NewNop())
	r.RenderAll(snapshot())
	r.RenderFiltered(snapshot(), "south")

	assert.False(t, r.Highlight("1", 0))
}

func TestHighlight_RepeatedExtendsEmphasis(t *testing.T) {
	r := New(zap.NewNop(), WithHighlightDuration(200*time.Millisecond))
	r.RenderAll(snapshot())

	r.Highlight("2", 7)
	time.Sleep(120 * time.Millisecond)
	r.Highlight("2", 6)
	time.Sleep(120 * time.Millisecond)

	// past the first deadline, the newer highlight must still be shown
	assert.True(t, r.View().Rows[1].Highlighted)
	assert.Eventually(t, func() bool {
		return !r.View().Rows[1].Highlighted
	}, time.Second, 5*time.Millisecond)
}

func TestOnChangeHook(t *testing.T) {
	var mu sync.Mutex
	var views []View
	r := New(zap.NewNop(), WithHighlightDuration(time.Hour), WithOnChange(func(v View) {
		mu.Lock()
		defer mu.Unlock()
		views = append(views, v)
	}))
	defer r.Close()

	r.RenderAll(snapshot())
	r.Highlight("3", 0)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, views, 2)
	assert.Equal(t, 0, views[1].Rows[2].Quantity)
}

func TestRenderAllFiltered_PublishesOneView(t *testing.T) {
	var views []View
	r := New(zap.NewNop(), WithOnChange(func(v View) { views = append(views, v) }))
	defer r.Close()

	r.RenderAllFiltered(snapshot(), "nor")

	require.Len(t, views, 1)
	assert.Equal(t, "nor", views[0].Query)
	assert.Len(t, views[0].Choices, len(snapshot().Locations)+1)
	assert.Equal(t, []models.LocationID{"1", "3"}, ids(views[0].Rows))
}

func TestWriteTo(t *testing.T) {
	r := New(zap.NewNop(), WithHighlightDuration(time.Hour))
	defer r.Close()
	r.RenderAll(snapshot())
	r.Highlight("2", 3)

	var buf bytes.Buffer
	n, err := r.WriteTo(&buf)

	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	out := buf.String()
	assert.Contains(t, out, "North")
	assert.Contains(t, out, "3*")
	assert.Contains(t, out, models.WarehouseName)
}
