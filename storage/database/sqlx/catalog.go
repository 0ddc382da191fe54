package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/elimuhub/elimu/core"
	"github.com/elimuhub/elimu/core/catalog"
)

type itemRow struct {
	ID                  string         `db:"id"`
	VendorID            string         `db:"vendor_id"`
	Name                string         `db:"name"`
	Description         null.String    `db:"description"`
	PointPrice          int            `db:"point_price"`
	EducationLevels     pq.StringArray `db:"education_levels"`
	MaxQuantityPerMonth int            `db:"max_quantity_per_month"`
	IsActive            bool           `db:"is_active"`
	CreatedAt           null.Time      `db:"created_at"`
	UpdatedAt           null.Time      `db:"updated_at"`
}

type catalogRepository struct {
	db *sqlx.DB
}

var _ catalog.Repository = (*catalogRepository)(nil) // interface compliance check

func NewCatalogRepository(db *sqlx.DB) *catalogRepository {
	return &catalogRepository{db: db}
}

func (repo catalogRepository) pack(it catalog.Item) itemRow {
	return itemRow{
		ID:                  it.ID,
		VendorID:            it.VendorID,
		Name:                it.Name,
		Description:         null.NewString(it.Description, it.Description != ""),
		PointPrice:          it.PointPrice,
		EducationLevels:     it.EducationLevels,
		MaxQuantityPerMonth: it.MaxQuantityPerMonth,
		IsActive:            it.IsActive,
		CreatedAt:           nullTime(it.CreatedAt),
		UpdatedAt:           nullTime(it.UpdatedAt),
	}
}

func (repo catalogRepository) unpack(row itemRow) catalog.Item {
	return catalog.Item{
		ID:                  row.ID,
		VendorID:            row.VendorID,
		Name:                row.Name,
		Description:         row.Description.String,
		PointPrice:          row.PointPrice,
		EducationLevels:     row.EducationLevels,
		MaxQuantityPerMonth: row.MaxQuantityPerMonth,
		IsActive:            row.IsActive,
		CreatedAt:           row.CreatedAt.Time,
		UpdatedAt:           row.UpdatedAt.Time,
	}
}

func (repo catalogRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return catalog.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo catalogRepository) CreateItem(ctx context.Context, it catalog.Item) (catalog.Item, error) {
	it.ID = uuid.New().String()
	row := repo.pack(it)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO catalog_item (id, vendor_id, name, description, point_price, education_levels,
		                          max_quantity_per_month, is_active, created_at, updated_at)
		VALUES (:id, :vendor_id, :name, :description, :point_price, :education_levels,
		        :max_quantity_per_month, :is_active, :created_at, :updated_at)`,
		row)
	if err != nil {
		return catalog.Item{}, errors.Wrap(err, "inserting catalog item")
	}
	return repo.unpack(row), nil
}

func (repo catalogRepository) GetItemByID(ctx context.Context, id string) (catalog.Item, error) {
	if _, err := uuid.Parse(id); err != nil {
		return catalog.Item{}, catalog.ErrNotFound
	}
	var row itemRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM catalog_item WHERE id = $1`, id); err != nil {
		return catalog.Item{}, repo.trapNoRowsErr(err, "finding catalog item")
	}
	return repo.unpack(row), nil
}

func (repo catalogRepository) QueryItems(ctx context.Context, filter *catalog.QueryFilter, ordering []core.DBOrdering) ([]catalog.Item, error) {
	query := `SELECT * FROM catalog_item`
	var conds []string
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			p := arg(val)
			conds = append(conds, fmt.Sprintf("(name ILIKE %[1]s OR description ILIKE %[1]s)", p))
		}
		if filter.VendorID != "" {
			conds = append(conds, "vendor_id = "+arg(filter.VendorID))
		}
		// items open to the level: an empty level set allows all levels
		if filter.EducationLevel != "" {
			p := arg(filter.EducationLevel)
			conds = append(conds, fmt.Sprintf(
				"(education_levels IS NULL OR CARDINALITY(education_levels) = 0 OR %s = ANY(education_levels))", p))
		}
		if filter.IsActive != nil {
			conds = append(conds, "is_active = "+arg(*filter.IsActive))
		}
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderingClause(ordering)

	var rows []itemRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying catalog items")
	}
	items := make([]catalog.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, repo.unpack(row))
	}
	return items, nil
}

func (repo catalogRepository) UpdateItem(ctx context.Context, it catalog.Item) (catalog.Item, error) {
	row := repo.pack(it)
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE catalog_item
		SET name = :name, description = :description, education_levels = :education_levels,
		    max_quantity_per_month = :max_quantity_per_month, is_active = :is_active,
		    updated_at = :updated_at
		WHERE id = :id`,
		row)
	if err != nil {
		return catalog.Item{}, errors.Wrap(err, "updating catalog item")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return catalog.Item{}, catalog.ErrNotFound
	}
	return repo.unpack(row), nil
}
