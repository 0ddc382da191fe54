package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/elimuhub/elimu/core"
	"github.com/elimuhub/elimu/core/student"
)

type studentRow struct {
	ID              string      `db:"id"`
	UserID          null.String `db:"user_id"`
	Name            string      `db:"name"`
	Email           null.String `db:"email"`
	EducationLevel  string      `db:"education_level"`
	Status          string      `db:"status"`
	TotalPoints     int         `db:"total_points"`
	AvailablePoints int         `db:"available_points"`
	InvestedPoints  int         `db:"invested_points"`
	InsurancePoints int         `db:"insurance_points"`
	ReservedPoints  int         `db:"reserved_points"`
	CreatedAt       null.Time   `db:"created_at"`
	UpdatedAt       null.Time   `db:"updated_at"`
}

type transactionRow struct {
	ID          string      `db:"id"`
	StudentID   string      `db:"student_id"`
	Type        string      `db:"type"`
	Amount      int         `db:"amount"`
	Category    null.String `db:"category"`
	Description null.String `db:"description"`
	Date        null.Time   `db:"date"`
	Balance     int         `db:"balance"`
}

type studentRepository struct {
	db *sqlx.DB
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *sqlx.DB) *studentRepository {
	return &studentRepository{db: db}
}

func (repo studentRepository) pack(st student.Student) studentRow {
	return studentRow{
		ID:              st.ID,
		UserID:          null.NewString(st.UserID, st.UserID != ""),
		Name:            st.Name,
		Email:           null.NewString(st.Email, st.Email != ""),
		EducationLevel:  st.EducationLevel,
		Status:          st.Status,
		TotalPoints:     st.TotalPoints,
		AvailablePoints: st.AvailablePoints,
		InvestedPoints:  st.InvestedPoints,
		InsurancePoints: st.InsurancePoints,
		ReservedPoints:  st.ReservedPoints,
		CreatedAt:       nullTime(st.CreatedAt),
		UpdatedAt:       nullTime(st.UpdatedAt),
	}
}

func (repo studentRepository) unpack(row studentRow) student.Student {
	return student.Student{
		ID:              row.ID,
		UserID:          row.UserID.String,
		Name:            row.Name,
		Email:           row.Email.String,
		EducationLevel:  row.EducationLevel,
		Status:          row.Status,
		TotalPoints:     row.TotalPoints,
		AvailablePoints: row.AvailablePoints,
		InvestedPoints:  row.InvestedPoints,
		InsurancePoints: row.InsurancePoints,
		ReservedPoints:  row.ReservedPoints,
		CreatedAt:       row.CreatedAt.Time,
		UpdatedAt:       row.UpdatedAt.Time,
	}
}

func (repo studentRepository) packTx(tx student.Transaction) transactionRow {
	return transactionRow{
		ID:          tx.ID,
		StudentID:   tx.StudentID,
		Type:        tx.Type,
		Amount:      tx.Amount,
		Category:    null.NewString(tx.Category, tx.Category != ""),
		Description: null.NewString(tx.Description, tx.Description != ""),
		Date:        nullTime(tx.Date),
		Balance:     tx.Balance,
	}
}

func (repo studentRepository) unpackTx(row transactionRow) student.Transaction {
	return student.Transaction{
		ID:          row.ID,
		StudentID:   row.StudentID,
		Type:        row.Type,
		Amount:      row.Amount,
		Category:    row.Category.String,
		Description: row.Description.String,
		Date:        row.Date.Time,
		Balance:     row.Balance,
	}
}

func (repo studentRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return student.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo studentRepository) CreateStudent(ctx context.Context, st student.Student) (student.Student, error) {
	st.ID = uuid.New().String()
	row := repo.pack(st)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO student (id, user_id, name, email, education_level, status, total_points,
		                     available_points, invested_points, insurance_points, reserved_points,
		                     created_at, updated_at)
		VALUES (:id, :user_id, :name, :email, :education_level, :status, :total_points,
		        :available_points, :invested_points, :insurance_points, :reserved_points,
		        :created_at, :updated_at)`,
		row)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "inserting student")
	}
	return repo.unpack(row), nil
}

func (repo studentRepository) GetStudent(ctx context.Context, filter student.GetFilter) (student.Student, error) {
	var (
		query string
		arg   string
	)
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return student.Student{}, student.ErrNotFound
		}
		query, arg = `SELECT * FROM student WHERE id = $1`, filter.ID
	case filter.UserID != "":
		if _, err := uuid.Parse(filter.UserID); err != nil {
			return student.Student{}, student.ErrNotFound
		}
		query, arg = `SELECT * FROM student WHERE user_id = $1`, filter.UserID
	default:
		return student.Student{}, student.ErrNotFound
	}

	var row studentRow
	if err := repo.db.GetContext(ctx, &row, query, arg); err != nil {
		return student.Student{}, repo.trapNoRowsErr(err, "finding student")
	}
	return repo.unpack(row), nil
}

func (repo studentRepository) QueryStudents(ctx context.Context, filter *student.QueryFilter, ordering []core.DBOrdering) ([]student.Student, error) {
	query := `SELECT * FROM student`
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
			conds = append(conds, fmt.Sprintf("(name ILIKE %[1]s OR email ILIKE %[1]s)", p))
		}
		if filter.Status != "" {
			conds = append(conds, "status = "+arg(filter.Status))
		}
		if filter.EducationLevel != "" {
			conds = append(conds, "education_level = "+arg(filter.EducationLevel))
		}
		if !filter.CreatedFrom.IsZero() {
			conds = append(conds, "created_at >= "+arg(filter.CreatedFrom.UTC()))
		}
		if !filter.CreatedTo.IsZero() {
			conds = append(conds, "created_at <= "+arg(filter.CreatedTo.UTC()))
		}
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderingClause(ordering)

	var rows []studentRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	students := make([]student.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, repo.unpack(row))
	}
	return students, nil
}

func (repo studentRepository) UpdateStudent(ctx context.Context, st student.Student) (student.Student, error) {
	row := repo.pack(st)
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE student
		SET name = :name, email = :email, education_level = :education_level, status = :status,
		    updated_at = :updated_at
		WHERE id = :id`,
		row)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "updating student")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return student.Student{}, student.ErrNotFound
	}
	return repo.unpack(row), nil
}

// ApplyTransaction persists the student's updated balances and appends the
// ledger entry in a single database transaction. The student row is locked
// for the duration so concurrent balance changes serialize.
func (repo studentRepository) ApplyTransaction(ctx context.Context, st student.Student, entry student.Transaction) (student.Student, error) {
	entry.ID = uuid.New().String()
	txRow := repo.packTx(entry)
	stRow := repo.pack(st)

	dbTx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = dbTx.Rollback() }()

	var id string
	if err = dbTx.GetContext(ctx, &id, `SELECT id FROM student WHERE id = $1 FOR UPDATE`, st.ID); err != nil {
		return student.Student{}, repo.trapNoRowsErr(err, "locking student")
	}

	_, err = dbTx.NamedExecContext(ctx, `
		UPDATE student
		SET total_points = :total_points, available_points = :available_points,
		    invested_points = :invested_points, insurance_points = :insurance_points,
		    reserved_points = :reserved_points, updated_at = :updated_at
		WHERE id = :id`,
		stRow)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "updating student balances")
	}

	_, err = dbTx.NamedExecContext(ctx, `
		INSERT INTO student_transaction (id, student_id, type, amount, category, description, date, balance)
		VALUES (:id, :student_id, :type, :amount, :category, :description, :date, :balance)`,
		txRow)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "inserting ledger entry")
	}

	if err = dbTx.Commit(); err != nil {
		return student.Student{}, errors.Wrap(err, "committing transaction")
	}
	return repo.unpack(stRow), nil
}

func (repo studentRepository) SetReservedPoints(ctx context.Context, studentID string, reserved int) (student.Student, error) {
	var row studentRow
	err := repo.db.GetContext(ctx, &row, `
		UPDATE student
		SET reserved_points = $2, updated_at = $3
		WHERE id = $1
		RETURNING *`,
		studentID, reserved, time.Now().UTC())
	if err != nil {
		return student.Student{}, repo.trapNoRowsErr(err, "updating reserved points")
	}
	return repo.unpack(row), nil
}

func (repo studentRepository) QueryTransactions(ctx context.Context, studentID string) ([]student.Transaction, error) {
	var rows []transactionRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT * FROM student_transaction WHERE student_id = $1 ORDER BY date`, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying ledger")
	}
	txs := make([]student.Transaction, 0, len(rows))
	for _, row := range rows {
		txs = append(txs, repo.unpackTx(row))
	}
	return txs, nil
}
