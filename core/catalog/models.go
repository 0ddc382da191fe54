package catalog

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/elimuhub/elimu/core"
)

// Item is a vendor-listed, point-priced good or service. PointPrice is fixed
// at creation; purchase orders snapshot it per line item.
type Item struct {
	ID                  string    `json:"id"`
	VendorID            string    `json:"vendor_id"`
	Name                string    `json:"name"`
	Description         string    `json:"description"`
	PointPrice          int       `json:"point_price"`
	EducationLevels     []string  `json:"education_levels"`
	MaxQuantityPerMonth int       `json:"max_quantity_per_month"` // per student; 0 = uncapped
	IsActive            bool      `json:"is_active"`
	CreatedAt           time.Time `json:"created_at"` // UTC
	UpdatedAt           time.Time `json:"updated_at"` // UTC
}

// AllowsLevel reports whether a student of the given education level may
// purchase this item. An empty level set allows all levels.
func (it Item) AllowsLevel(level string) bool {
	if len(it.EducationLevels) == 0 {
		return true
	}
	for _, l := range it.EducationLevels {
		if l == level {
			return true
		}
	}
	return false
}

// NewItem contains information needed to list a new catalog Item.
type NewItem struct {
	VendorID            string   `json:"vendor_id" validate:"required"`
	Name                string   `json:"name" validate:"required"`
	Description         string   `json:"description"`
	PointPrice          int      `json:"point_price" validate:"required,gt=0"`
	EducationLevels     []string `json:"education_levels" validate:"omitempty,dive,edulevel"`
	MaxQuantityPerMonth int      `json:"max_quantity_per_month" validate:"omitempty,gte=0"`
}

func (ni *NewItem) Validate(validate *validator.Validate) error {
	ni.Name = core.CleanString(ni.Name)
	ni.Description = core.CleanString(ni.Description)
	for i, l := range ni.EducationLevels {
		ni.EducationLevels[i] = core.CleanString(l, true /* lower */)
	}
	return validate.Struct(ni)
}

// UpdateItem defines what may be modified on an existing Item; the point
// price is deliberately absent.
type UpdateItem struct {
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	EducationLevels     []string `json:"education_levels" validate:"omitempty,dive,edulevel"`
	MaxQuantityPerMonth *int     `json:"max_quantity_per_month" validate:"omitempty,gte=0"`
	IsActive            *bool    `json:"is_active"`
}

func (ui *UpdateItem) Validate(orig Item, validate *validator.Validate) error {
	name := core.CleanString(ui.Name)
	if name != "" {
		ui.Name = name
	} else {
		ui.Name = orig.Name
	}
	ui.Description = core.CleanString(ui.Description)
	for i, l := range ui.EducationLevels {
		ui.EducationLevels[i] = core.CleanString(l, true /* lower */)
	}
	return validate.Struct(ui)
}

type QueryFilter struct {
	Search         string `query:"search"`
	VendorID       string `query:"vendor_id"`
	EducationLevel string `query:"education_level"`
	IsActive       *bool  `query:"is_active"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.VendorID == "" && qf.EducationLevel == "" && qf.IsActive == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.EducationLevel = core.CleanString(qf.EducationLevel, true /* lower */)
}
