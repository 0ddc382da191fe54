package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/elimuhub/elimu/core"
	"github.com/elimuhub/elimu/core/catalog"
)

type catalogRepository struct {
	db *catalogTable
}

var _ catalog.Repository = (*catalogRepository)(nil) // interface compliance check

func NewCatalogRepository(db *DB) catalog.Repository {
	return &catalogRepository{db: db.catalog}
}

func (repo *catalogRepository) query() []catalog.Item {
	items := make([]catalog.Item, 0, len(repo.db.table))
	for _, it := range repo.db.table {
		items = append(items, *it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items
}

func (repo *catalogRepository) CreateItem(ctx context.Context, it catalog.Item) (catalog.Item, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	it.ID = uuid.New().String()
	repo.db.table[it.ID] = &it
	return it, nil
}

func (repo *catalogRepository) GetItemByID(ctx context.Context, id string) (catalog.Item, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if it, ok := repo.db.table[id]; ok {
		return *it, nil
	}
	return catalog.Item{}, catalog.ErrNotFound
}

func (repo *catalogRepository) QueryItems(ctx context.Context, filter *catalog.QueryFilter, ordering []core.DBOrdering) ([]catalog.Item, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	items := repo.query()
	if filter == nil {
		return items, nil
	}

	if filter.Search != "" {
		var filtered []catalog.Item
		search := strings.ToLower(filter.Search)
		for _, it := range items {
			if strings.Contains(strings.ToLower(it.Name), search) ||
				strings.Contains(strings.ToLower(it.Description), search) {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	if items != nil && filter.VendorID != "" {
		var filtered []catalog.Item
		for _, it := range items {
			if it.VendorID == filter.VendorID {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	if items != nil && filter.EducationLevel != "" {
		var filtered []catalog.Item
		for _, it := range items {
			if it.AllowsLevel(filter.EducationLevel) {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	if items != nil && filter.IsActive != nil {
		var filtered []catalog.Item
		for _, it := range items {
			if it.IsActive == *filter.IsActive {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	return items, nil
}

func (repo *catalogRepository) UpdateItem(ctx context.Context, it catalog.Item) (catalog.Item, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[it.ID]; !ok {
		return catalog.Item{}, catalog.ErrNotFound
	}
	repo.db.table[it.ID] = &it
	return it, nil
}
