package student

import (
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/elimuhub/elimu/core"
)

// Application statuses
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Education levels
const (
	LevelPrimary    = "primary"
	LevelSecondary  = "secondary"
	LevelVocational = "vocational"
	LevelTertiary   = "tertiary"
)

var AllLevels = []string{LevelPrimary, LevelSecondary, LevelVocational, LevelTertiary}

// Ledger entry types
const (
	TxEarned    = "earned"
	TxSpent     = "spent"
	TxInvested  = "invested"
	TxWithdrawn = "withdrawn"
	TxInsurance = "insurance"
	TxRefund    = "refund"
)

// Student balances are mutated only through ledger operations; the row itself
// caches the running totals. Invariant: TotalPoints >= AvailablePoints +
// InvestedPoints + InsurancePoints, and no balance ever goes negative.
type Student struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	EducationLevel string `json:"education_level"`
	Status         string `json:"status"`

	TotalPoints     int `json:"total_points"`
	AvailablePoints int `json:"available_points"`
	InvestedPoints  int `json:"invested_points"`
	InsurancePoints int `json:"insurance_points"`
	ReservedPoints  int `json:"reserved_points"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// SpendablePoints is what a new purchase order may claim: the available
// balance minus what pending/approved orders have already reserved.
func (s Student) SpendablePoints() int {
	return s.AvailablePoints - s.ReservedPoints
}

func (s Student) IsApproved() bool { return s.Status == StatusApproved }

// Transaction is an immutable, append-only ledger entry. Balance is a cached
// snapshot of AvailablePoints after the entry applied; the ordered entry
// sequence is the source of truth.
type Transaction struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	Type        string    `json:"type"`
	Amount      int       `json:"amount"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"` // UTC
	Balance     int       `json:"balance"`
}

// Sign is the direction the entry moves the available balance: +1 for
// credits, -1 for debits.
func (tx Transaction) Sign() int {
	switch tx.Type {
	case TxEarned, TxRefund:
		return 1
	default:
		return -1
	}
}

// ReplayBalance reconstructs the available balance by replaying entries in
// order; it must reproduce the last entry's Balance snapshot exactly.
func ReplayBalance(txs []Transaction) int {
	var balance int
	for _, tx := range txs {
		balance += tx.Sign() * tx.Amount
	}
	return balance
}

// NewStudent contains information needed to register a new Student application.
type NewStudent struct {
	Name           string `json:"name" validate:"required"`
	Email          string `json:"email" validate:"omitempty,email"`
	UserID         string `json:"user_id"`
	EducationLevel string `json:"education_level" validate:"required,edulevel"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
	ns.EducationLevel = core.CleanString(ns.EducationLevel, true /* lower */)
	return validate.Struct(ns)
}

// LedgerEntry is the request payload for the ledger operations
// (credit/debit/invest/insure).
type LedgerEntry struct {
	Amount      int    `json:"amount" validate:"required,gt=0"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

func (le *LedgerEntry) Validate(validate *validator.Validate) error {
	le.Category = core.CleanString(le.Category, true /* lower */)
	le.Description = core.CleanString(le.Description)
	return validate.Struct(le)
}

type QueryFilter struct {
	Search         string    `query:"search"`
	Status         string    `query:"status"`
	EducationLevel string    `query:"education_level"`
	CreatedFrom    time.Time `query:"created_from"`
	CreatedTo      time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Status == "" && qf.EducationLevel == "" &&
		qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	qf.EducationLevel = core.CleanString(qf.EducationLevel, true /* lower */)
}

var (
	eduLevelTag  = "edulevel"
	eduLevelText = "invalid education level"
)

// InitValidators registers this package's custom validators; must be called
// once at app init.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(eduLevelTag, eduLevelValidation)
	core.RegisterCustomTranslation(validate, translator, eduLevelTag, eduLevelText)
}

// eduLevelValidation checks that the provided level is in AllLevels.
func eduLevelValidation(fl validator.FieldLevel) bool {
	level := fl.Field().String()
	for _, l := range AllLevels {
		if level == l {
			return true
		}
	}
	return false
}
