package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/elimuhub/elimu/core"
	"github.com/elimuhub/elimu/core/order"
)

type orderRepository struct {
	db *orderTable
}

var _ order.Repository = (*orderRepository)(nil) // interface compliance check

func NewOrderRepository(db *DB) order.Repository {
	return &orderRepository{db: db.order}
}

func (repo *orderRepository) query() []order.Order {
	orders := make([]order.Order, 0, len(repo.db.table))
	for _, ord := range repo.db.table {
		orders = append(orders, *ord)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders
}

func (repo *orderRepository) CreateOrder(ctx context.Context, ord order.Order) (order.Order, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ord.ID = uuid.New().String()
	for i := range ord.Items {
		ord.Items[i].ID = uuid.New().String()
		ord.Items[i].OrderID = ord.ID
	}
	repo.db.table[ord.ID] = &ord
	return ord, nil
}

func (repo *orderRepository) GetOrderByID(ctx context.Context, id string) (order.Order, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ord, ok := repo.db.table[id]; ok {
		return *ord, nil
	}
	return order.Order{}, order.ErrNotFound
}

func (repo *orderRepository) QueryOrders(ctx context.Context, filter *order.QueryFilter, ordering []core.DBOrdering) ([]order.Order, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	orders := repo.query()
	if filter == nil {
		return orders, nil
	}

	if filter.StudentID != "" {
		var filtered []order.Order
		for _, ord := range orders {
			if ord.StudentID == filter.StudentID {
				filtered = append(filtered, ord)
			}
		}
		orders = filtered
	}
	if orders != nil && filter.VendorID != "" {
		var filtered []order.Order
		for _, ord := range orders {
			if ord.VendorID == filter.VendorID {
				filtered = append(filtered, ord)
			}
		}
		orders = filtered
	}
	if orders != nil && filter.Status != "" {
		var filtered []order.Order
		for _, ord := range orders {
			if ord.Status == filter.Status {
				filtered = append(filtered, ord)
			}
		}
		orders = filtered
	}
	if orders != nil && !filter.CreatedFrom.IsZero() {
		var filtered []order.Order
		timeUTC := filter.CreatedFrom.UTC()
		for _, ord := range orders {
			if !ord.CreatedAt.Before(timeUTC) {
				filtered = append(filtered, ord)
			}
		}
		orders = filtered
	}
	if orders != nil && !filter.CreatedTo.IsZero() {
		var filtered []order.Order
		timeUTC := filter.CreatedTo.UTC()
		for _, ord := range orders {
			if !ord.CreatedAt.After(timeUTC) {
				filtered = append(filtered, ord)
			}
		}
		orders = filtered
	}
	return orders, nil
}

func (repo *orderRepository) UpdateOrderStatus(ctx context.Context, ord order.Order, from string) (order.Order, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[ord.ID]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	if orig.Status != from {
		return order.Order{}, order.ErrInvalidStateTransition
	}
	ord.Items = orig.Items
	repo.db.table[ord.ID] = &ord
	return ord, nil
}

func (repo *orderRepository) CountMonthlyPurchases(ctx context.Context, studentID, catalogItemID string, at time.Time) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	y, m, _ := at.UTC().Date()
	var count int
	for _, ord := range repo.db.table {
		if ord.StudentID != studentID {
			continue
		}
		switch ord.Status {
		case order.StatusPending, order.StatusApproved, order.StatusFulfilled:
		default:
			continue
		}
		oy, om, _ := ord.CreatedAt.UTC().Date()
		if oy != y || om != m {
			continue
		}
		for _, it := range ord.Items {
			if it.CatalogItemID == catalogItemID {
				count += it.Quantity
			}
		}
	}
	return count, nil
}
