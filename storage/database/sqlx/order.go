package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/elimuhub/elimu/core"
	"github.com/elimuhub/elimu/core/order"
)

type orderRow struct {
	ID             string      `db:"id"`
	StudentID      string      `db:"student_id"`
	VendorID       string      `db:"vendor_id"`
	Status         string      `db:"status"`
	DeliveryMethod string      `db:"delivery_method"`
	TotalPoints    int         `db:"total_points"`
	CreatedAt      null.Time   `db:"created_at"`
	UpdatedAt      null.Time   `db:"updated_at"`
	ApprovedAt     null.Time   `db:"approved_at"`
	ApprovedBy     null.String `db:"approved_by"`
	RejectedAt     null.Time   `db:"rejected_at"`
	RejectReason   null.String `db:"reject_reason"`
	FulfilledAt    null.Time   `db:"fulfilled_at"`
	CancelledAt    null.Time   `db:"cancelled_at"`
}

type orderItemRow struct {
	ID            string `db:"id"`
	OrderID       string `db:"order_id"`
	CatalogItemID string `db:"catalog_item_id"`
	Name          string `db:"name"`
	Quantity      int    `db:"quantity"`
	PointsPerItem int    `db:"points_per_item"`
	TotalPoints   int    `db:"total_points"`
}

type orderRepository struct {
	db *sqlx.DB
}

var _ order.Repository = (*orderRepository)(nil) // interface compliance check

func NewOrderRepository(db *sqlx.DB) *orderRepository {
	return &orderRepository{db: db}
}

func (repo orderRepository) pack(ord order.Order) orderRow {
	return orderRow{
		ID:             ord.ID,
		StudentID:      ord.StudentID,
		VendorID:       ord.VendorID,
		Status:         ord.Status,
		DeliveryMethod: ord.DeliveryMethod,
		TotalPoints:    ord.TotalPoints,
		CreatedAt:      nullTime(ord.CreatedAt),
		UpdatedAt:      nullTime(ord.UpdatedAt),
		ApprovedAt:     nullTime(ord.ApprovedAt),
		ApprovedBy:     null.NewString(ord.ApprovedBy, ord.ApprovedBy != ""),
		RejectedAt:     nullTime(ord.RejectedAt),
		RejectReason:   null.NewString(ord.RejectReason, ord.RejectReason != ""),
		FulfilledAt:    nullTime(ord.FulfilledAt),
		CancelledAt:    nullTime(ord.CancelledAt),
	}
}

func (repo orderRepository) unpack(row orderRow) order.Order {
	return order.Order{
		ID:             row.ID,
		StudentID:      row.StudentID,
		VendorID:       row.VendorID,
		Status:         row.Status,
		DeliveryMethod: row.DeliveryMethod,
		TotalPoints:    row.TotalPoints,
		CreatedAt:      row.CreatedAt.Time,
		UpdatedAt:      row.UpdatedAt.Time,
		ApprovedAt:     row.ApprovedAt.Time,
		ApprovedBy:     row.ApprovedBy.String,
		RejectedAt:     row.RejectedAt.Time,
		RejectReason:   row.RejectReason.String,
		FulfilledAt:    row.FulfilledAt.Time,
		CancelledAt:    row.CancelledAt.Time,
	}
}

func (repo orderRepository) unpackItem(row orderItemRow) order.Item {
	return order.Item{
		ID:            row.ID,
		OrderID:       row.OrderID,
		CatalogItemID: row.CatalogItemID,
		Name:          row.Name,
		Quantity:      row.Quantity,
		PointsPerItem: row.PointsPerItem,
		TotalPoints:   row.TotalPoints,
	}
}

func (repo orderRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return order.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo orderRepository) CreateOrder(ctx context.Context, ord order.Order) (order.Order, error) {
	ord.ID = uuid.New().String()
	row := repo.pack(ord)

	dbTx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return order.Order{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = dbTx.Rollback() }()

	_, err = dbTx.NamedExecContext(ctx, `
		INSERT INTO purchase_order (id, student_id, vendor_id, status, delivery_method, total_points,
		                            created_at, updated_at, approved_at, approved_by, rejected_at,
		                            reject_reason, fulfilled_at, cancelled_at)
		VALUES (:id, :student_id, :vendor_id, :status, :delivery_method, :total_points,
		        :created_at, :updated_at, :approved_at, :approved_by, :rejected_at,
		        :reject_reason, :fulfilled_at, :cancelled_at)`,
		row)
	if err != nil {
		return order.Order{}, errors.Wrap(err, "inserting order")
	}

	for i := range ord.Items {
		ord.Items[i].ID = uuid.New().String()
		ord.Items[i].OrderID = ord.ID
		_, err = dbTx.NamedExecContext(ctx, `
			INSERT INTO purchase_order_item (id, order_id, catalog_item_id, name, quantity, points_per_item, total_points)
			VALUES (:id, :order_id, :catalog_item_id, :name, :quantity, :points_per_item, :total_points)`,
			orderItemRow{
				ID:            ord.Items[i].ID,
				OrderID:       ord.Items[i].OrderID,
				CatalogItemID: ord.Items[i].CatalogItemID,
				Name:          ord.Items[i].Name,
				Quantity:      ord.Items[i].Quantity,
				PointsPerItem: ord.Items[i].PointsPerItem,
				TotalPoints:   ord.Items[i].TotalPoints,
			})
		if err != nil {
			return order.Order{}, errors.Wrap(err, "inserting order item")
		}
	}

	if err = dbTx.Commit(); err != nil {
		return order.Order{}, errors.Wrap(err, "committing transaction")
	}

	items := ord.Items
	ord = repo.unpack(row)
	ord.Items = items
	return ord, nil
}

func (repo orderRepository) GetOrderByID(ctx context.Context, id string) (order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return order.Order{}, order.ErrNotFound
	}
	var row orderRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM purchase_order WHERE id = $1`, id); err != nil {
		return order.Order{}, repo.trapNoRowsErr(err, "finding order")
	}

	ord := repo.unpack(row)
	items, err := repo.loadItems(ctx, []string{ord.ID})
	if err != nil {
		return order.Order{}, err
	}
	ord.Items = items[ord.ID]
	return ord, nil
}

// loadItems fetches the line items of the given orders in one query, keyed by
// order ID.
func (repo orderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]order.Item, error) {
	var rows []orderItemRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT * FROM purchase_order_item WHERE order_id = ANY($1)`, pq.Array(orderIDs))
	if err != nil {
		return nil, errors.Wrap(err, "querying order items")
	}
	items := make(map[string][]order.Item, len(orderIDs))
	for _, row := range rows {
		items[row.OrderID] = append(items[row.OrderID], repo.unpackItem(row))
	}
	return items, nil
}

func (repo orderRepository) QueryOrders(ctx context.Context, filter *order.QueryFilter, ordering []core.DBOrdering) ([]order.Order, error) {
	query := `SELECT * FROM purchase_order`
	var conds []string
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		if filter.StudentID != "" {
			conds = append(conds, "student_id = "+arg(filter.StudentID))
		}
		if filter.VendorID != "" {
			conds = append(conds, "vendor_id = "+arg(filter.VendorID))
		}
		if filter.Status != "" {
			conds = append(conds, "status = "+arg(filter.Status))
		}
		if !filter.CreatedFrom.IsZero() {
			conds = append(conds, "created_at >= "+arg(filter.CreatedFrom.UTC()))
		}
		if !filter.CreatedTo.IsZero() {
			conds = append(conds, "created_at <= "+arg(filter.CreatedTo.UTC()))
		}
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderingClause(ordering)

	var rows []orderRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying orders")
	}
	if len(rows) == 0 {
		return []order.Order{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	items, err := repo.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	orders := make([]order.Order, 0, len(rows))
	for _, row := range rows {
		ord := repo.unpack(row)
		ord.Items = items[ord.ID]
		orders = append(orders, ord)
	}
	return orders, nil
}

// UpdateOrderStatus persists the order only if its stored status still equals
// `from`; a zero affected-row count on an existing order means a concurrent
// actor already moved it.
func (repo orderRepository) UpdateOrderStatus(ctx context.Context, ord order.Order, from string) (order.Order, error) {
	row := repo.pack(ord)
	res, err := repo.db.ExecContext(ctx, `
		UPDATE purchase_order
		SET status = $3, updated_at = $4, approved_at = $5, approved_by = $6,
		    rejected_at = $7, reject_reason = $8, fulfilled_at = $9, cancelled_at = $10
		WHERE id = $1 AND status = $2`,
		row.ID, from, row.Status, row.UpdatedAt, row.ApprovedAt, row.ApprovedBy,
		row.RejectedAt, row.RejectReason, row.FulfilledAt, row.CancelledAt)
	if err != nil {
		return order.Order{}, errors.Wrap(err, "updating order status")
	}
	cnt, err := res.RowsAffected()
	if err != nil {
		return order.Order{}, errors.Wrap(err, "updating order status")
	}
	if cnt == 0 {
		// distinguish a missing order from a lost transition race
		var exists bool
		if err = repo.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM purchase_order WHERE id = $1)`, ord.ID); err != nil {
			return order.Order{}, errors.Wrap(err, "checking order")
		}
		if !exists {
			return order.Order{}, order.ErrNotFound
		}
		return order.Order{}, order.ErrInvalidStateTransition
	}

	items := ord.Items
	ord = repo.unpack(row)
	ord.Items = items
	return ord, nil
}

func (repo orderRepository) CountMonthlyPurchases(ctx context.Context, studentID, catalogItemID string, at time.Time) (int, error) {
	var count int
	err := repo.db.GetContext(ctx, &count, `
		SELECT COALESCE(SUM(poi.quantity), 0)
		FROM purchase_order_item poi
		JOIN purchase_order po ON po.id = poi.order_id
		WHERE po.student_id = $1
		  AND poi.catalog_item_id = $2
		  AND po.status IN ('pending', 'approved', 'fulfilled')
		  AND DATE_TRUNC('month', po.created_at) = DATE_TRUNC('month', $3::timestamptz)`,
		studentID, catalogItemID, at.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "counting monthly purchases")
	}
	return count, nil
}
