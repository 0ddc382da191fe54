package order

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/elimuhub/elimu/core"
)

// Statuses
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusFulfilled = "fulfilled"
	StatusCancelled = "cancelled"
)

// transitions is the full set of legal status moves; anything else is
// rejected with ErrInvalidStateTransition.
var transitions = map[string][]string{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusFulfilled, StatusCancelled},
}

func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

// Delivery methods
const (
	DeliveryPickup   = "pickup"
	DeliveryDelivery = "delivery"
)

// Item is a purchase order line item; PointsPerItem snapshots the catalog
// price at order creation.
type Item struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	CatalogItemID string `json:"catalog_item_id"`
	Name          string `json:"name"`
	Quantity      int    `json:"quantity"`
	PointsPerItem int    `json:"points_per_item"`
	TotalPoints   int    `json:"total_points"`
}

// Order is a student's request to redeem points for catalog items via a
// single vendor. Invariant: TotalPoints == Σ Items[i].TotalPoints.
type Order struct {
	ID             string `json:"id"`
	StudentID      string `json:"student_id"`
	VendorID       string `json:"vendor_id"`
	Status         string `json:"status"`
	DeliveryMethod string `json:"delivery_method"`
	Items          []Item `json:"items"`
	TotalPoints    int    `json:"total_points"`

	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	ApprovedAt   time.Time `json:"approved_at"`
	ApprovedBy   string    `json:"approved_by"`
	RejectedAt   time.Time `json:"rejected_at"`
	RejectReason string    `json:"reject_reason"`
	FulfilledAt  time.Time `json:"fulfilled_at"`
	CancelledAt  time.Time `json:"cancelled_at"`
}

// SumItems recomputes the order total from its line items.
func (o Order) SumItems() int {
	var total int
	for _, it := range o.Items {
		total += it.TotalPoints
	}
	return total
}

// NewOrderItem is one requested line of a new purchase order.
type NewOrderItem struct {
	CatalogItemID string `json:"catalog_item_id" validate:"required"`
	Quantity      int    `json:"quantity" validate:"required,gt=0"`
}

// NewOrder contains information needed to create a new purchase Order.
type NewOrder struct {
	StudentID      string         `json:"student_id" validate:"required"`
	DeliveryMethod string         `json:"delivery_method" validate:"required,oneof=pickup delivery"`
	Items          []NewOrderItem `json:"items" validate:"required,min=1,dive"`
}

func (no *NewOrder) Validate(validate *validator.Validate) error {
	no.DeliveryMethod = core.CleanString(no.DeliveryMethod, true /* lower */)
	return validate.Struct(no)
}

// RejectOrder is the payload for rejecting a pending order; a reason is
// mandatory.
type RejectOrder struct {
	By     string `json:"by"`
	Reason string `json:"reason" validate:"required"`
}

func (ro *RejectOrder) Validate(validate *validator.Validate) error {
	ro.Reason = core.CleanString(ro.Reason)
	return validate.Struct(ro)
}

type QueryFilter struct {
	StudentID   string    `query:"student_id"`
	VendorID    string    `query:"vendor_id"`
	Status      string    `query:"status"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.StudentID == "" && qf.VendorID == "" && qf.Status == "" &&
		qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Status = core.CleanString(qf.Status, true /* lower */)
}
