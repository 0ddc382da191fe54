package sponsorship

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/elimuhub/elimu/core"
)

// Statuses
const (
	StatusActive        = "active"
	StatusPaused        = "paused"
	StatusCancelled     = "cancelled"
	StatusCompleted     = "completed"
	StatusOptOutPending = "opt-out-pending"
)

// optOutCoolOff is the cooling-off period between an opt-out request and the
// sponsorship actually ending.
func optOutEffectiveDate(requested time.Time) time.Time {
	return requested.AddDate(0, 1, 0)
}

// Sponsorship is a recurring donor-to-student commitment crediting
// MonthlyPoints each month while active.
type Sponsorship struct {
	ID            string `json:"id"`
	DonorID       string `json:"donor_id"`
	StudentID     string `json:"student_id"`
	MonthlyPoints int    `json:"monthly_points"`
	Status        string `json:"status"`

	StartDate time.Time `json:"start_date"` // UTC
	EndDate   time.Time `json:"end_date"`

	// StudentHidden hides the student's identity from the donor view from the
	// moment an opt-out is requested.
	StudentHidden     bool      `json:"student_hidden"`
	OptOutRequestedAt time.Time `json:"opt_out_requested_at"`
	OptOutEffectiveAt time.Time `json:"opt_out_effective_at"`
	OptOutReason      string    `json:"opt_out_reason"`

	LastCreditedAt time.Time `json:"last_credited_at"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
}

func (sp Sponsorship) IsActive() bool { return sp.Status == StatusActive }

// creditedThisMonth reports whether the sponsorship has already been credited
// in the calendar month of `now`.
func (sp Sponsorship) creditedThisMonth(now time.Time) bool {
	if sp.LastCreditedAt.IsZero() {
		return false
	}
	y1, m1, _ := sp.LastCreditedAt.UTC().Date()
	y2, m2, _ := now.UTC().Date()
	return y1 == y2 && m1 == m2
}

// NewSponsorship contains information needed to start a new Sponsorship.
type NewSponsorship struct {
	DonorID       string `json:"donor_id" validate:"required"`
	StudentID     string `json:"student_id" validate:"required"`
	MonthlyPoints int    `json:"monthly_points" validate:"required,gt=0"`
}

func (ns *NewSponsorship) Validate(validate *validator.Validate) error {
	return validate.Struct(ns)
}

// OptOutRequest is the payload for a donor-initiated, delayed cancellation.
type OptOutRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (or *OptOutRequest) Validate(validate *validator.Validate) error {
	or.Reason = core.CleanString(or.Reason)
	return validate.Struct(or)
}

type QueryFilter struct {
	DonorID   string `query:"donor_id"`
	StudentID string `query:"student_id"`
	Status    string `query:"status"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.DonorID == "" && qf.StudentID == "" && qf.Status == ""
}

func (qf *QueryFilter) Clean() {
	qf.Status = core.CleanString(qf.Status, true /* lower */)
}
