package student

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/elimuhub/elimu/core"
)

var (
	// errors
	ErrNotFound           = errors.New("student not found")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrNotApproved        = errors.New("student application is not approved")
)

type (
	GetFilter struct {
		ID     string
		UserID string
	}

	Repository interface {
		CreateStudent(ctx context.Context, st Student) (Student, error)
		GetStudent(ctx context.Context, filter GetFilter) (Student, error)
		// QueryStudents applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on Student.Name.
		QueryStudents(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Student, error)
		// UpdateStudent updates identity fields and Status; balances are only
		// ever written through ApplyTransaction and SetReservedPoints.
		UpdateStudent(ctx context.Context, st Student) (Student, error)
		// ApplyTransaction persists the student's new balances and appends the
		// ledger entry as one atomic unit (single DB transaction, row locked).
		ApplyTransaction(ctx context.Context, st Student, entry Transaction) (Student, error)
		SetReservedPoints(ctx context.Context, studentID string, reserved int) (Student, error)
		// QueryTransactions returns the student's ledger entries in date order.
		QueryTransactions(ctx context.Context, studentID string) ([]Transaction, error)
	}

	Service struct {
		repo Repository
		mu   keyedMutex
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Create(ctx context.Context, ns NewStudent) (Student, error) {
	now := time.Now().UTC()
	st := Student{
		Name:           ns.Name,
		Email:          ns.Email,
		UserID:         ns.UserID,
		EducationLevel: ns.EducationLevel,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return svc.repo.CreateStudent(ctx, st)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudent(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUserID(ctx context.Context, userID string) (Student, error) {
	return svc.repo.GetStudent(ctx, GetFilter{UserID: userID})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, filter, ordering)
}

func (svc *Service) Transactions(ctx context.Context, studentID string) ([]Transaction, error) {
	if _, err := svc.GetByID(ctx, studentID); err != nil {
		return nil, err
	}
	return svc.repo.QueryTransactions(ctx, studentID)
}

// ApproveApplication transitions a pending application to approved; the
// student may earn and redeem points from then on.
func (svc *Service) ApproveApplication(ctx context.Context, id string) (Student, error) {
	return svc.setStatus(ctx, id, StatusApproved)
}

func (svc *Service) RejectApplication(ctx context.Context, id string) (Student, error) {
	return svc.setStatus(ctx, id, StatusRejected)
}

func (svc *Service) setStatus(ctx context.Context, id, status string) (Student, error) {
	st, err := svc.GetByID(ctx, id)
	if err != nil {
		return Student{}, err
	}
	st.Status = status
	st.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateStudent(ctx, st)
}

// Ledger operations.
//
// Each operation locks the student (application-level mutex keyed by student
// ID), re-reads the row, checks the balance rule, then persists the mutated
// balances together with the new ledger entry atomically. A failed check
// leaves both the balances and the ledger untouched.

// Credit appends an `earned` entry and increments the available balance.
func (svc *Service) Credit(ctx context.Context, id string, entry LedgerEntry) (Student, error) {
	return svc.apply(ctx, id, TxEarned, entry)
}

// Debit appends a `withdrawn` entry and decrements the available balance.
func (svc *Service) Debit(ctx context.Context, id string, entry LedgerEntry) (Student, error) {
	return svc.apply(ctx, id, TxWithdrawn, entry)
}

// Invest moves points from the available balance to the invested balance.
func (svc *Service) Invest(ctx context.Context, id string, entry LedgerEntry) (Student, error) {
	return svc.apply(ctx, id, TxInvested, entry)
}

// Insure moves points from the available balance to the insurance balance.
func (svc *Service) Insure(ctx context.Context, id string, entry LedgerEntry) (Student, error) {
	return svc.apply(ctx, id, TxInsurance, entry)
}

// Refund appends a `refund` entry restoring previously spent points.
func (svc *Service) Refund(ctx context.Context, id string, entry LedgerEntry) (Student, error) {
	return svc.apply(ctx, id, TxRefund, entry)
}

// SpendReserved appends a `spent` entry for points previously reserved by a
// purchase order, releasing the reservation in the same mutation. Used by
// order fulfillment.
func (svc *Service) SpendReserved(ctx context.Context, id string, entry LedgerEntry) (Student, error) {
	return svc.apply(ctx, id, TxSpent, entry)
}

func (svc *Service) apply(ctx context.Context, id, txType string, entry LedgerEntry) (Student, error) {
	if entry.Amount <= 0 {
		return Student{}, core.NewValidationError(
			errors.New("amount must be positive"),
			core.FieldError{Field: "amount", Error: "amount must be positive"},
		)
	}

	unlock := svc.mu.lock(id)
	defer unlock()

	st, err := svc.GetByID(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if !st.IsApproved() {
		return Student{}, ErrNotApproved
	}

	switch txType {
	case TxEarned:
		st.AvailablePoints += entry.Amount
		st.TotalPoints += entry.Amount
	case TxRefund:
		st.AvailablePoints += entry.Amount
	case TxSpent:
		// order fulfillment spends points it reserved earlier
		if entry.Amount > st.AvailablePoints {
			return Student{}, ErrInsufficientPoints
		}
		st.AvailablePoints -= entry.Amount
		if st.ReservedPoints >= entry.Amount {
			st.ReservedPoints -= entry.Amount
		} else {
			st.ReservedPoints = 0
		}
	case TxWithdrawn:
		if entry.Amount > st.SpendablePoints() {
			return Student{}, ErrInsufficientPoints
		}
		st.AvailablePoints -= entry.Amount
	case TxInvested:
		if entry.Amount > st.SpendablePoints() {
			return Student{}, ErrInsufficientPoints
		}
		st.AvailablePoints -= entry.Amount
		st.InvestedPoints += entry.Amount
	case TxInsurance:
		if entry.Amount > st.SpendablePoints() {
			return Student{}, ErrInsufficientPoints
		}
		st.AvailablePoints -= entry.Amount
		st.InsurancePoints += entry.Amount
	default:
		return Student{}, errors.Errorf("unknown transaction type %q", txType)
	}
	st.UpdatedAt = time.Now().UTC()

	tx := Transaction{
		StudentID:   id,
		Type:        txType,
		Amount:      entry.Amount,
		Category:    entry.Category,
		Description: entry.Description,
		Date:        st.UpdatedAt,
		Balance:     st.AvailablePoints,
	}
	return svc.repo.ApplyTransaction(ctx, st, tx)
}

// Reserve claims part of the available balance for a pending purchase order.
// Reservations are not ledger events; they only fence off the balance so
// concurrent orders cannot jointly overcommit it.
func (svc *Service) Reserve(ctx context.Context, id string, amount int) (Student, error) {
	unlock := svc.mu.lock(id)
	defer unlock()

	st, err := svc.GetByID(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if !st.IsApproved() {
		return Student{}, ErrNotApproved
	}
	if amount > st.SpendablePoints() {
		return Student{}, ErrInsufficientPoints
	}
	return svc.repo.SetReservedPoints(ctx, id, st.ReservedPoints+amount)
}

// ReleaseReservation returns previously reserved points to the spendable pool.
func (svc *Service) ReleaseReservation(ctx context.Context, id string, amount int) (Student, error) {
	unlock := svc.mu.lock(id)
	defer unlock()

	st, err := svc.GetByID(ctx, id)
	if err != nil {
		return Student{}, err
	}
	reserved := st.ReservedPoints - amount
	if reserved < 0 {
		reserved = 0
	}
	return svc.repo.SetReservedPoints(ctx, id, reserved)
}

// VerifyLedger replays the student's ledger and reports whether it
// reconstructs the cached available balance.
func (svc *Service) VerifyLedger(ctx context.Context, id string) (bool, error) {
	st, err := svc.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	txs, err := svc.repo.QueryTransactions(ctx, id)
	if err != nil {
		return false, err
	}
	return ReplayBalance(txs) == st.AvailablePoints, nil
}

// keyedMutex serializes balance mutations per student.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sync.Mutex
	refs int
}

func (km *keyedMutex) lock(key string) (unlock func()) {
	km.mu.Lock()
	if km.locks == nil {
		km.locks = make(map[string]*lockEntry)
	}
	entry, ok := km.locks[key]
	if !ok {
		entry = new(lockEntry)
		km.locks[key] = entry
	}
	entry.refs++
	km.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		km.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}
