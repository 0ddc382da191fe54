package dummydb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elimuhub/elimu/core"
	"github.com/elimuhub/elimu/core/student"
)

type studentRepository struct {
	db *studentTable
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *DB) student.Repository {
	return &studentRepository{db: db.student}
}

func (repo *studentRepository) query() []student.Student {
	students := make([]student.Student, 0, len(repo.db.table))
	for _, st := range repo.db.table {
		students = append(students, *st)
	}
	sort.Slice(students, func(i, j int) bool { return students[i].CreatedAt.Before(students[j].CreatedAt) })
	return students
}

func (repo *studentRepository) CreateStudent(ctx context.Context, st student.Student) (student.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	st.ID = uuid.New().String()
	repo.db.table[st.ID] = &st
	return st, nil
}

func (repo *studentRepository) GetStudent(ctx context.Context, filter student.GetFilter) (student.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if st, ok := repo.db.table[filter.ID]; ok {
			return *st, nil
		}
		return student.Student{}, student.ErrNotFound
	}
	if filter.UserID != "" {
		for _, st := range repo.db.table {
			if st.UserID == filter.UserID {
				return *st, nil
			}
		}
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *studentRepository) QueryStudents(ctx context.Context, filter *student.QueryFilter, ordering []core.DBOrdering) ([]student.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	students := repo.query()
	if filter == nil {
		return students, nil
	}

	if filter.Search != "" {
		var filtered []student.Student
		search := strings.ToLower(filter.Search)
		for _, st := range students {
			if strings.Contains(strings.ToLower(st.Name), search) ||
				strings.Contains(strings.ToLower(st.Email), search) {
				filtered = append(filtered, st)
			}
		}
		students = filtered
	}
	if students != nil && filter.Status != "" {
		var filtered []student.Student
		for _, st := range students {
			if st.Status == filter.Status {
				filtered = append(filtered, st)
			}
		}
		students = filtered
	}
	if students != nil && filter.EducationLevel != "" {
		var filtered []student.Student
		for _, st := range students {
			if st.EducationLevel == filter.EducationLevel {
				filtered = append(filtered, st)
			}
		}
		students = filtered
	}
	if students != nil && !filter.CreatedFrom.IsZero() {
		var filtered []student.Student
		timeUTC := filter.CreatedFrom.UTC()
		for _, st := range students {
			if !st.CreatedAt.Before(timeUTC) {
				filtered = append(filtered, st)
			}
		}
		students = filtered
	}
	if students != nil && !filter.CreatedTo.IsZero() {
		var filtered []student.Student
		timeUTC := filter.CreatedTo.UTC()
		for _, st := range students {
			if !st.CreatedAt.After(timeUTC) {
				filtered = append(filtered, st)
			}
		}
		students = filtered
	}
	return students, nil
}

func (repo *studentRepository) UpdateStudent(ctx context.Context, st student.Student) (student.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[st.ID]
	if !ok {
		return student.Student{}, student.ErrNotFound
	}
	// balances are only written through ApplyTransaction / SetReservedPoints
	orig.Name = st.Name
	orig.Email = st.Email
	orig.EducationLevel = st.EducationLevel
	orig.Status = st.Status
	orig.UpdatedAt = st.UpdatedAt
	return *orig, nil
}

func (repo *studentRepository) ApplyTransaction(ctx context.Context, st student.Student, entry student.Transaction) (student.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[st.ID]; !ok {
		return student.Student{}, student.ErrNotFound
	}
	entry.ID = uuid.New().String()
	repo.db.table[st.ID] = &st
	repo.db.ledger[st.ID] = append(repo.db.ledger[st.ID], entry)
	return st, nil
}

func (repo *studentRepository) SetReservedPoints(ctx context.Context, studentID string, reserved int) (student.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	st, ok := repo.db.table[studentID]
	if !ok {
		return student.Student{}, student.ErrNotFound
	}
	st.ReservedPoints = reserved
	st.UpdatedAt = time.Now().UTC()
	return *st, nil
}

func (repo *studentRepository) QueryTransactions(ctx context.Context, studentID string) ([]student.Transaction, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	txs := make([]student.Transaction, len(repo.db.ledger[studentID]))
	copy(txs, repo.db.ledger[studentID])
	return txs, nil
}
