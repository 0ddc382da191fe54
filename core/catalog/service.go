package catalog

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/elimuhub/elimu/core"
)

var ErrNotFound = errors.New("catalog item not found")

type (
	Repository interface {
		CreateItem(ctx context.Context, it Item) (Item, error)
		GetItemByID(ctx context.Context, id string) (Item, error)
		QueryItems(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Item, error)
		UpdateItem(ctx context.Context, it Item) (Item, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Create(ctx context.Context, ni NewItem) (Item, error) {
	now := time.Now().UTC()
	it := Item{
		VendorID:            ni.VendorID,
		Name:                ni.Name,
		Description:         ni.Description,
		PointPrice:          ni.PointPrice,
		EducationLevels:     ni.EducationLevels,
		MaxQuantityPerMonth: ni.MaxQuantityPerMonth,
		IsActive:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	return svc.repo.CreateItem(ctx, it)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Item, error) {
	return svc.repo.GetItemByID(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Item, error) {
	return svc.repo.QueryItems(ctx, filter, ordering)
}

func (svc *Service) Update(ctx context.Context, id string, ui UpdateItem) (Item, error) {
	it, err := svc.repo.GetItemByID(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if ui.Name != "" {
		it.Name = ui.Name
	}
	if ui.Description != "" {
		it.Description = ui.Description
	}
	if ui.EducationLevels != nil {
		it.EducationLevels = ui.EducationLevels
	}
	if ui.MaxQuantityPerMonth != nil {
		it.MaxQuantityPerMonth = *ui.MaxQuantityPerMonth
	}
	if ui.IsActive != nil {
		it.IsActive = *ui.IsActive
	}
	it.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateItem(ctx, it)
}

// Deactivate delists an item without deleting it; existing orders keep their
// price snapshots.
func (svc *Service) Deactivate(ctx context.Context, id string) (Item, error) {
	inactive := false
	return svc.Update(ctx, id, UpdateItem{IsActive: &inactive})
}
