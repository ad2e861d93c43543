package collab

import (
	"context"
	"database/sql"
)

// SQLInventory serves SKUs and purchase orders from the reference tables in
// the run database. The tables are populated by Seed on first start.
type SQLInventory struct {
	db *sql.DB
}

func NewSQLInventory(db *sql.DB) *SQLInventory {
	return &SQLInventory{db: db}
}

func (s *SQLInventory) SKUsBySupplier(ctx context.Context, supplierID string) ([]SKU, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sku, name, stock, reorder_point, supplier_id, unit_cost, category
		 FROM inventory WHERE supplier_id = ? ORDER BY sku`, supplierID)
	if err != nil {
		return nil, Unavailable("inventory", err)
	}
	defer rows.Close()

	var out []SKU
	for rows.Next() {
		var sku SKU
		if err := rows.Scan(&sku.ID, &sku.Name, &sku.Stock, &sku.ReorderPoint,
			&sku.SupplierID, &sku.UnitCost, &sku.Category); err != nil {
			return nil, Unavailable("inventory", err)
		}
		out = append(out, sku)
	}
	return out, rows.Err()
}

func (s *SQLInventory) OpenOrdersBySupplier(ctx context.Context, supplierID string) ([]PurchaseOrder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT po_id, supplier_id, sku, quantity, status, expected_delivery, total_value
		 FROM purchase_orders WHERE supplier_id = ? AND status != 'cancelled' ORDER BY po_id`, supplierID)
	if err != nil {
		return nil, Unavailable("inventory", err)
	}
	defer rows.Close()

	var out []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(&po.POID, &po.SupplierID, &po.SKU, &po.Quantity,
			&po.Status, &po.ExpectedDelivery, &po.TotalValue); err != nil {
			return nil, Unavailable("inventory", err)
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

// Seed loads the reference inventory and purchase-order data into the
// database. Idempotent; existing rows are left alone.
func Seed(ctx context.Context, db *sql.DB) error {
	for _, sku := range ReferenceSKUs {
		_, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO inventory (sku, name, stock, reorder_point, supplier_id, unit_cost, category)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sku.ID, sku.Name, sku.Stock, sku.ReorderPoint, sku.SupplierID, sku.UnitCost, sku.Category)
		if err != nil {
			return err
		}
	}
	for _, po := range ReferenceOrders {
		_, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO purchase_orders (po_id, supplier_id, sku, quantity, status, expected_delivery, total_value)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			po.POID, po.SupplierID, po.SKU, po.Quantity, po.Status, po.ExpectedDelivery, po.TotalValue)
		if err != nil {
			return err
		}
	}
	return nil
}

var _ InventoryStore = (*SQLInventory)(nil)
