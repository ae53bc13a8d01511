// Package render projects the inventory snapshot into a display list and a
// location selector for the point-of-sale terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goflare.io/storefront/models"
)

const defaultHighlightDuration = 1500 * time.Millisecond

// Row 是顯示清單中的一列
type Row struct {
	ID          models.LocationID
	Name        string
	Quantity    int
	UnitPrice   decimal.Decimal
	Highlighted bool
}

// Choice 是選擇控制項中的一個選項
type Choice struct {
	ID    models.LocationID
	Label string
}

// View is a point-in-time copy of what the renderer currently shows.
type View struct {
	Rows      []Row
	Warehouse *Row
	Choices   []Choice
	Query     string
}

type Option func(*Renderer)

func WithHighlightDuration(d time.Duration) Option {
	return func(r *Renderer) {
		r.highlightFor = d
	}
}

// WithOnChange registers a hook called after every visible change.
func WithOnChange(fn func(View)) Option {
	return func(r *Renderer) {
		r.onChange = fn
	}
}

type Renderer struct {
	mu           sync.Mutex
	rows         []Row
	warehouse    *Row
	choices      []Choice
	query        string
	highlightFor time.Duration
	timers       map[models.LocationID]*time.Timer
	onChange     func(View)
	logger       *zap.Logger
}

func New(logger *zap.Logger, opts ...Option) *Renderer {
	r := &Renderer{
		highlightFor: defaultHighlightDuration,
		timers:       make(map[models.LocationID]*time.Timer),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RenderAll 清除並重建完整顯示清單與選擇控制項，保持快照順序
func (r *Renderer) RenderAll(snapshot *models.InventorySnapshot) {
	r.RenderAllFiltered(snapshot, "")
}

// RenderAllFiltered rebuilds the selection choices from the whole snapshot and
// the displayed rows with query applied, publishing a single view.
func (r *Renderer) RenderAllFiltered(snapshot *models.InventorySnapshot, query string) {
	r.mu.Lock()
	r.query = query
	r.rows = rowsFor(snapshot, query)
	r.warehouse = warehouseRow(snapshot)
	r.choices = choicesFor(snapshot)
	view := r.viewLocked()
	r.mu.Unlock()

	r.notify(view)
}

// RenderFiltered 只重建顯示清單，選擇控制項保持不變
func (r *Renderer) RenderFiltered(snapshot *models.InventorySnapshot, query string) []Row {
	r.mu.Lock()
	r.query = query
	r.rows = rowsFor(snapshot, query)
	r.warehouse = warehouseRow(snapshot)
	view := r.viewLocked()
	r.mu.Unlock()

	r.notify(view)
	return view.Rows
}

// Highlight updates one displayed quantity in place and marks it for a short
// while. It reports false when the entity is not currently displayed.
func (r *Renderer) Highlight(id models.LocationID, quantity int) bool {
	r.mu.Lock()
	row := r.findLocked(id)
	if row == nil {
		r.mu.Unlock()
		return false
	}
	row.Quantity = quantity
	row.Highlighted = true

	if prev, ok := r.timers[id]; ok {
		prev.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(r.highlightFor, func() {
		r.clearHighlight(id, timer)
	})
	r.timers[id] = timer

	view := r.viewLocked()
	r.mu.Unlock()

	r.notify(view)
	return true
}

func (r *Renderer) clearHighlight(id models.LocationID, timer *time.Timer) {
	r.mu.Lock()
	if r.timers[id] != timer {
		r.mu.Unlock()
		return
	}
	delete(r.timers, id)
	if row := r.findLocked(id); row != nil {
		row.Highlighted = false
	}
	view := r.viewLocked()
	r.mu.Unlock()

	r.notify(view)
}

// Query returns the search text currently narrowing the display list.
func (r *Renderer) Query() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.query
}

func (r *Renderer) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// Close stops pending highlight timers.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

// WriteTo 以文字表格輸出目前畫面
func (r *Renderer) WriteTo(w io.Writer) (int64, error) {
	view := r.View()
	cw := &countingWriter{w: w}
	tw := tabwriter.NewWriter(cw, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "ID\tSUCURSAL\tCANTIDAD\tPRECIO\t")
	for _, row := range view.Rows {
		fmt.Fprintln(tw, formatRow(row))
	}
	if view.Warehouse != nil {
		fmt.Fprintln(tw, formatRow(*view.Warehouse))
	}
	if err := tw.Flush(); err != nil {
		return cw.n, err
	}
	if view.Query != "" {
		fmt.Fprintf(cw, "(filtro: %q)\n", view.Query)
	}
	return cw.n, cw.err
}

func formatRow(row Row) string {
	mark := ""
	if row.Highlighted {
		mark = "*"
	}
	return fmt.Sprintf("%s\t%s\t%d%s\t%s\t", row.ID, row.Name, row.Quantity, mark, row.UnitPrice.String())
}

func (r *Renderer) findLocked(id models.LocationID) *Row {
	if id.IsWarehouse() {
		return r.warehouse
	}
	for i := range r.rows {
		if r.rows[i].ID == id {
			return &r.rows[i]
		}
	}
	return nil
}

func (r *Renderer) viewLocked() View {
	view := View{
		Rows:    make([]Row, len(r.rows)),
		Choices: make([]Choice, len(r.choices)),
		Query:   r.query,
	}
	copy(view.Rows, r.rows)
	copy(view.Choices, r.choices)
	if r.warehouse != nil {
		w := *r.warehouse
		view.Warehouse = &w
	}
	return view
}

func (r *Renderer) notify(view View) {
	if r.onChange != nil {
		r.onChange(view)
	}
}

func rowsFor(snapshot *models.InventorySnapshot, query string) []Row {
	if snapshot == nil {
		return nil
	}
	needle := strings.ToLower(query)
	rows := make([]Row, 0, len(snapshot.Locations))
	for _, loc := range snapshot.Locations {
		if needle != "" && !strings.Contains(strings.ToLower(loc.Name), needle) {
			continue
		}
		rows = append(rows, Row{
			ID:        loc.ID,
			Name:      loc.Name,
			Quantity:  loc.Quantity,
			UnitPrice: loc.UnitPrice,
		})
	}
	return rows
}

func warehouseRow(snapshot *models.InventorySnapshot) *Row {
	if snapshot == nil {
		return nil
	}
	return &Row{
		ID:        models.WarehouseID,
		Name:      models.WarehouseName,
		Quantity:  snapshot.Warehouse.Quantity,
		UnitPrice: snapshot.Warehouse.UnitPrice,
	}
}

// 總倉永遠可以被選為試算目標，但結帳時會被拒絕
func choicesFor(snapshot *models.InventorySnapshot) []Choice {
	if snapshot == nil {
		return []Choice{{ID: models.WarehouseID, Label: models.WarehouseName}}
	}
	choices := make([]Choice, 0, len(snapshot.Locations)+1)
	for _, loc := range snapshot.Locations {
		choices = append(choices, Choice{ID: loc.ID, Label: loc.Name})
	}
	return append(choices, Choice{ID: models.WarehouseID, Label: models.WarehouseName})
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
