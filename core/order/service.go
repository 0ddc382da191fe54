package order

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/elimuhub/elimu/core"
	"github.com/elimuhub/elimu/core/catalog"
	"github.com/elimuhub/elimu/core/student"
)

var (
	// errors
	ErrNotFound               = errors.New("purchase order not found")
	ErrIneligibleItem         = errors.New("student is not eligible for this item")
	ErrInvalidStateTransition = errors.New("invalid order state transition")
)

const purchaseCategory = "purchase"

type (
	Repository interface {
		// CreateOrder inserts the order and its line items atomically.
		CreateOrder(ctx context.Context, ord Order) (Order, error)
		GetOrderByID(ctx context.Context, id string) (Order, error)
		// QueryOrders applies AND operation on available QueryFilter fields;
		// orders come back with their line items.
		QueryOrders(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Order, error)
		// UpdateOrderStatus persists ord only if the stored status still equals
		// `from` (update-where-status-matches, affected-row check); returns
		// ErrInvalidStateTransition when a concurrent actor won the transition.
		UpdateOrderStatus(ctx context.Context, ord Order, from string) (Order, error)
		// CountMonthlyPurchases sums the quantity of the catalog item across the
		// student's pending, approved and fulfilled orders created in the
		// calendar month of `at`.
		CountMonthlyPurchases(ctx context.Context, studentID, catalogItemID string, at time.Time) (int, error)
	}

	Service struct {
		repo     Repository
		students *student.Service
		items    *catalog.Service
		mail     core.EmailService
	}
)

func NewService(repo Repository, students *student.Service, items *catalog.Service, mailSvc core.EmailService) *Service {
	return &Service{
		repo:     repo,
		students: students,
		items:    items,
		mail:     mailSvc,
	}
}

func (svc *Service) GetByID(ctx context.Context, id string) (Order, error) {
	return svc.repo.GetOrderByID(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Order, error) {
	return svc.repo.QueryOrders(ctx, filter, ordering)
}

// Create validates each requested line against the catalog (education level,
// monthly cap, active listing), snapshots prices, reserves the order total on
// the student's balance and persists the order as pending. Nothing is
// persisted when any check fails.
func (svc *Service) Create(ctx context.Context, no NewOrder) (Order, error) {
	st, err := svc.students.GetByID(ctx, no.StudentID)
	if err != nil {
		return Order{}, err
	}
	if !st.IsApproved() {
		return Order{}, student.ErrNotApproved
	}

	now := time.Now().UTC()
	ord := Order{
		StudentID:      st.ID,
		Status:         StatusPending,
		DeliveryMethod: no.DeliveryMethod,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	requested := make(map[string]int) // per catalog item, across this order's lines
	for _, line := range no.Items {
		it, err := svc.items.GetByID(ctx, line.CatalogItemID)
		if err != nil {
			if errors.Cause(err) == catalog.ErrNotFound {
				return Order{}, errors.Wrapf(ErrIneligibleItem, "unknown catalog item %s", line.CatalogItemID)
			}
			return Order{}, errors.Wrap(err, "finding catalog item")
		}
		if !it.IsActive {
			return Order{}, errors.Wrapf(ErrIneligibleItem, "item %q is no longer listed", it.Name)
		}
		if !it.AllowsLevel(st.EducationLevel) {
			return Order{}, errors.Wrapf(ErrIneligibleItem, "item %q is not available for %s students", it.Name, st.EducationLevel)
		}
		if it.MaxQuantityPerMonth > 0 {
			bought, err := svc.repo.CountMonthlyPurchases(ctx, st.ID, it.ID, now)
			if err != nil {
				return Order{}, errors.Wrap(err, "counting monthly purchases")
			}
			if bought+requested[it.ID]+line.Quantity > it.MaxQuantityPerMonth {
				return Order{}, errors.Wrapf(ErrIneligibleItem, "monthly cap reached for item %q", it.Name)
			}
		}
		requested[it.ID] += line.Quantity
		if ord.VendorID == "" {
			ord.VendorID = it.VendorID
		} else if ord.VendorID != it.VendorID {
			return Order{}, core.NewValidationError(
				errors.New("all items must belong to a single vendor"),
				core.FieldError{Field: "items", Error: "all items must belong to a single vendor"},
			)
		}

		ord.Items = append(ord.Items, Item{
			CatalogItemID: it.ID,
			Name:          it.Name,
			Quantity:      line.Quantity,
			PointsPerItem: it.PointPrice,
			TotalPoints:   line.Quantity * it.PointPrice,
		})
	}
	ord.TotalPoints = ord.SumItems()

	// fence off the balance before the order exists so concurrent orders
	// cannot jointly overcommit it
	if _, err := svc.students.Reserve(ctx, st.ID, ord.TotalPoints); err != nil {
		return Order{}, err
	}

	// the repo zeroes the returned order on failure; keep the total around
	// so the compensating release is not a no-op
	total := ord.TotalPoints
	ord, err = svc.repo.CreateOrder(ctx, ord)
	if err != nil {
		_, _ = svc.students.ReleaseReservation(ctx, st.ID, total)
		return Order{}, errors.Wrap(err, "creating order")
	}
	return ord, nil
}

// Approve transitions a pending order to approved; no balance change.
func (svc *Service) Approve(ctx context.Context, id, approver string) (Order, error) {
	ord, err := svc.GetByID(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(ord.Status, StatusApproved) {
		return Order{}, ErrInvalidStateTransition
	}

	from := ord.Status
	ord.Status = StatusApproved
	ord.ApprovedAt = time.Now().UTC()
	ord.ApprovedBy = approver
	ord.UpdatedAt = ord.ApprovedAt

	ord, err = svc.repo.UpdateOrderStatus(ctx, ord, from)
	if err != nil {
		return Order{}, err
	}
	svc.notifyStudent(ctx, ord, "Your order has been approved and is awaiting fulfillment.")
	return ord, nil
}

// Reject transitions a pending order to rejected and releases the points
// reservation. A non-empty reason is required.
func (svc *Service) Reject(ctx context.Context, id, reason string) (Order, error) {
	if core.CleanString(reason) == "" {
		return Order{}, core.NewValidationError(
			errors.New("a rejection reason is required"),
			core.FieldError{Field: "reason", Error: "a rejection reason is required"},
		)
	}

	ord, err := svc.GetByID(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(ord.Status, StatusRejected) {
		return Order{}, ErrInvalidStateTransition
	}

	from := ord.Status
	ord.Status = StatusRejected
	ord.RejectedAt = time.Now().UTC()
	ord.RejectReason = reason
	ord.UpdatedAt = ord.RejectedAt

	ord, err = svc.repo.UpdateOrderStatus(ctx, ord, from)
	if err != nil {
		return Order{}, err
	}
	if _, err := svc.students.ReleaseReservation(ctx, ord.StudentID, ord.TotalPoints); err != nil {
		return Order{}, errors.Wrap(err, "releasing reservation")
	}
	svc.notifyStudent(ctx, ord, fmt.Sprintf("Your order was rejected: %s", reason))
	return ord, nil
}

// Fulfill transitions an approved order to fulfilled, writing one `spent`
// ledger entry of the order total. The transition is claimed first (guarded
// update) so concurrent fulfillments cannot double-spend; the balance is then
// re-checked at spend time and the transition reverted if it no longer holds.
func (svc *Service) Fulfill(ctx context.Context, id string) (Order, error) {
	ord, err := svc.GetByID(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(ord.Status, StatusFulfilled) {
		return Order{}, ErrInvalidStateTransition
	}

	from := ord.Status
	ord.Status = StatusFulfilled
	ord.FulfilledAt = time.Now().UTC()
	ord.UpdatedAt = ord.FulfilledAt

	ord, err = svc.repo.UpdateOrderStatus(ctx, ord, from)
	if err != nil {
		return Order{}, err
	}

	entry := student.LedgerEntry{
		Amount:      ord.TotalPoints,
		Category:    purchaseCategory,
		Description: fmt.Sprintf("purchase order %s", ord.ID),
	}
	if _, err := svc.students.SpendReserved(ctx, ord.StudentID, entry); err != nil {
		// balance no longer covers the order; put it back to approved
		revert := ord
		revert.Status = StatusApproved
		revert.FulfilledAt = time.Time{}
		revert.UpdatedAt = time.Now().UTC()
		if _, rerr := svc.repo.UpdateOrderStatus(ctx, revert, StatusFulfilled); rerr != nil {
			return Order{}, errors.Wrap(rerr, "reverting fulfillment")
		}
		return Order{}, err
	}

	svc.notifyStudent(ctx, ord, "Your order has been fulfilled. Enjoy!")
	return ord, nil
}

// Cancel transitions a pending or approved order to cancelled and releases
// the points reservation.
func (svc *Service) Cancel(ctx context.Context, id string) (Order, error) {
	ord, err := svc.GetByID(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(ord.Status, StatusCancelled) {
		return Order{}, ErrInvalidStateTransition
	}

	from := ord.Status
	ord.Status = StatusCancelled
	ord.CancelledAt = time.Now().UTC()
	ord.UpdatedAt = ord.CancelledAt

	ord, err = svc.repo.UpdateOrderStatus(ctx, ord, from)
	if err != nil {
		return Order{}, err
	}
	if _, err := svc.students.ReleaseReservation(ctx, ord.StudentID, ord.TotalPoints); err != nil {
		return Order{}, errors.Wrap(err, "releasing reservation")
	}
	svc.notifyStudent(ctx, ord, "Your order has been cancelled.")
	return ord, nil
}

func (svc *Service) notifyStudent(ctx context.Context, ord Order, note string) {
	st, err := svc.students.GetByID(ctx, ord.StudentID)
	if err != nil || st.Email == "" {
		return
	}
	svc.mail.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: st.Name, Address: st.Email}},
		Subject:      fmt.Sprintf("Order %s %s", ord.ID, ord.Status),
		TemplateName: "order-status",
		TemplateData: struct {
			StudentName string
			OrderID     string
			Status      string
			TotalPoints int
			Note        string
		}{st.Name, ord.ID, ord.Status, ord.TotalPoints, note},
	})
}
