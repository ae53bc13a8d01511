package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// WarehouseID 是總倉（casa matriz）的保留識別碼，不會與任何分店 ID 衝突
const WarehouseID LocationID = "casa_matriz"

// WarehouseName 是總倉的顯示名稱
const WarehouseName = "Casa Matriz"

// LocationID 是分店的不透明識別碼，JSON 中可以是數字或字串
type LocationID string

func (id *LocationID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = LocationID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = LocationID(n.String())
	return nil
}

// MarshalJSON writes canonical integers as JSON numbers; anything else,
// including "+1" or "007", stays a string.
func (id LocationID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id LocationID) IsWarehouse() bool {
	return id == WarehouseID
}

func (id LocationID) String() string {
	return string(id)
}

// StockLocation 代表一個持有庫存的據點（分店或總倉）
type StockLocation struct {
	ID        LocationID      `json:"id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// InventorySnapshot 是目前庫存與價格的完整快照
type InventorySnapshot struct {
	Locations []StockLocation
	Warehouse StockLocation
}

// Find 依 ID 查找據點，總倉使用保留識別碼
func (s *InventorySnapshot) Find(id LocationID) (StockLocation, bool) {
	if s == nil {
		return StockLocation{}, false
	}
	if id.IsWarehouse() {
		return s.Warehouse, true
	}
	for _, loc := range s.Locations {
		if loc.ID == id {
			return loc, true
		}
	}
	return StockLocation{}, false
}

// Clone returns a deep copy so a patched snapshot never aliases the one readers hold.
func (s *InventorySnapshot) Clone() *InventorySnapshot {
	if s == nil {
		return nil
	}
	locations := make([]StockLocation, len(s.Locations))
	copy(locations, s.Locations)
	return &InventorySnapshot{
		Locations: locations,
		Warehouse: s.Warehouse,
	}
}

// Validate 檢查分店 ID 唯一、不使用總倉保留碼，且數量與價格不為負
func (s *InventorySnapshot) Validate() error {
	seen := make(map[LocationID]struct{}, len(s.Locations))
	for _, loc := range s.Locations {
		if loc.ID.IsWarehouse() {
			return fmt.Errorf("location %q uses the reserved warehouse id", loc.Name)
		}
		if _, dup := seen[loc.ID]; dup {
			return fmt.Errorf("duplicate location id %s", loc.ID)
		}
		seen[loc.ID] = struct{}{}
		if loc.Quantity < 0 || loc.UnitPrice.IsNegative() {
			return fmt.Errorf("location %s has a negative quantity or price", loc.ID)
		}
	}
	if s.Warehouse.Quantity < 0 || s.Warehouse.UnitPrice.IsNegative() {
		return fmt.Errorf("warehouse has a negative quantity or price")
	}
	return nil
}

type wireLocation struct {
	ID       LocationID `json:"id"`
	Nombre   string     `json:"nombre"`
	Cantidad int        `json:"cantidad"`
	Precio   Amount     `json:"precio"`
}

type wireWarehouse struct {
	Cantidad int    `json:"cantidad"`
	Precio   Amount `json:"precio"`
}

type wireSnapshot struct {
	Sucursales []wireLocation `json:"sucursales"`
	CasaMatriz wireWarehouse  `json:"casa_matriz"`
}

func (s InventorySnapshot) MarshalJSON() ([]byte, error) {
	wire := wireSnapshot{
		Sucursales: make([]wireLocation, 0, len(s.Locations)),
		CasaMatriz: wireWarehouse{
			Cantidad: s.Warehouse.Quantity,
			Precio:   Amount(s.Warehouse.UnitPrice),
		},
	}
	for _, loc := range s.Locations {
		wire.Sucursales = append(wire.Sucursales, wireLocation{
			ID:       loc.ID,
			Nombre:   loc.Name,
			Cantidad: loc.Quantity,
			Precio:   Amount(loc.UnitPrice),
		})
	}
	return json.Marshal(wire)
}

func (s *InventorySnapshot) UnmarshalJSON(data []byte) error {
	var wire wireSnapshot
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	locations := make([]StockLocation, 0, len(wire.Sucursales))
	for _, w := range wire.Sucursales {
		locations = append(locations, StockLocation{
			ID:        w.ID,
			Name:      w.Nombre,
			Quantity:  w.Cantidad,
			UnitPrice: w.Precio.Decimal(),
		})
	}

	s.Locations = locations
	s.Warehouse = StockLocation{
		ID:        WarehouseID,
		Name:      WarehouseName,
		Quantity:  wire.CasaMatriz.Cantidad,
		UnitPrice: wire.CasaMatriz.Precio.Decimal(),
	}
	return nil
}

// StockDelta 是推播送來的單筆庫存數量更新，不含價格
type StockDelta struct {
	TargetID    LocationID `json:"id"`
	Name        string     `json:"nombre"`
	NewQuantity int        `json:"cantidad"`
}

// Amount encodes a decimal as a bare JSON number instead of decimal's default quoted string.
type Amount decimal.Decimal

func (a Amount) Decimal() decimal.Decimal {
	return decimal.Decimal(a)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(a).String()), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*a = Amount(d)
	return nil
}
