// Package postgres provides the durable implementation of the circulation
// store interfaces on PostgreSQL. SQL is built with goqu and executed on a
// pgx connection pool; the copy compare-and-set relies on a version-guarded
// single-row UPDATE, with zero rows affected signalling a conflict.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ngenohkevin/circulation/internal/database"
	"github.com/ngenohkevin/circulation/internal/models"
)

const (
	dialectPostgres = "postgres"

	tableCopies       = "book_copies"
	tableBorrowings   = "borrowings"
	tableReservations = "reservations"
	tableFines        = "fines"
	tableMembers      = "members"

	pgUniqueViolation = "23505"
)

// Store implements the circulation store interfaces on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store on an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func builder() goqu.DialectWrapper {
	return goqu.Dialect(dialectPostgres)
}

func mapInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return database.ErrDuplicate
	}
	return err
}

// --- CopyStore ---

var copyColumns = []any{
	"id", "book_id", "copy_number", "status", "condition", "location",
	"version", "created_at", "updated_at",
}

func scanCopy(row pgx.Row) (models.BookCopy, error) {
	var c models.BookCopy
	err := row.Scan(&c.ID, &c.BookID, &c.CopyNumber, &c.Status, &c.Condition,
		&c.Location, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) GetCopy(ctx context.Context, copyID string) (models.BookCopy, error) {
	query, args, err := builder().From(tableCopies).
		Select(copyColumns...).
		Where(goqu.Ex{"id": copyID}).
		Prepared(true).ToSQL()
	if err != nil {
		return models.BookCopy{}, fmt.Errorf("failed to build query: %w", err)
	}

	c, err := scanCopy(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BookCopy{}, database.ErrNotFound
	}
	return c, err
}

func (s *Store) CreateCopy(ctx context.Context, copy models.BookCopy) (models.BookCopy, error) {
	query, args, err := builder().Insert(tableCopies).
		Rows(goqu.Record{
			"id":          copy.ID,
			"book_id":     copy.BookID,
			"copy_number": copy.CopyNumber,
			"status":      copy.Status,
			"condition":   copy.Condition,
			"location":    copy.Location,
			"version":     copy.Version,
			"created_at":  copy.CreatedAt,
			"updated_at":  copy.UpdatedAt,
		}).
		Prepared(true).ToSQL()
	if err != nil {
		return models.BookCopy{}, fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return models.BookCopy{}, mapInsertErr(err)
	}
	return copy, nil
}

func (s *Store) ListCopiesByBook(ctx context.Context, bookID string) ([]models.BookCopy, error) {
	query, args, err := builder().From(tableCopies).
		Select(copyColumns...).
		Where(goqu.Ex{"book_id": bookID}).
		Order(goqu.I("copy_number").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var copies []models.BookCopy
	for rows.Next() {
		c, err := scanCopy(rows)
		if err != nil {
			return nil, err
		}
		copies = append(copies, c)
	}
	return copies, rows.Err()
}

// CompareAndSetCopyStatus performs the version-guarded status write. The
// WHERE clause carries the caller's expectation; zero rows updated means the
// stored pair moved underneath the caller.
func (s *Store) CompareAndSetCopyStatus(ctx context.Context, copyID string, expectedStatus models.CopyStatus, expectedVersion int64, newStatus models.CopyStatus) (models.BookCopy, error) {
	query, args, err := builder().Update(tableCopies).
		Set(goqu.Record{
			"status":     newStatus,
			"version":    goqu.L("version + 1"),
			"updated_at": time.Now().UTC(),
		}).
		Where(goqu.Ex{
			"id":      copyID,
			"status":  expectedStatus,
			"version": expectedVersion,
		}).
		Prepared(true).ToSQL()
	if err != nil {
		return models.BookCopy{}, fmt.Errorf("failed to build update: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return models.BookCopy{}, err
	}

	if tag.RowsAffected() == 0 {
		// Distinguish a missing copy from a concurrent writer.
		if _, getErr := s.GetCopy(ctx, copyID); errors.Is(getErr, database.ErrNotFound) {
			return models.BookCopy{}, database.ErrNotFound
		}
		return models.BookCopy{}, database.ErrVersionConflict
	}

	return s.GetCopy(ctx, copyID)
}

// --- BorrowingStore ---

var borrowingColumns = []any{
	"id", "copy_id", "member_id", "borrow_date", "due_date", "return_date",
	"status", "renewal_count", "fine_amount", "created_at", "updated_at",
}

func scanBorrowing(row pgx.Row) (models.Borrowing, error) {
	var b models.Borrowing
	var returnDate pgtype.Timestamptz
	var fineAmount pgtype.Numeric

	err := row.Scan(&b.ID, &b.CopyID, &b.MemberID, &b.BorrowDate, &b.DueDate,
		&returnDate, &b.Status, &b.RenewalCount, &fineAmount, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return models.Borrowing{}, err
	}

	if returnDate.Valid {
		t := returnDate.Time
		b.ReturnDate = &t
	}
	b.FineAmount = decimalFromNumeric(fineAmount)
	return b, nil
}

func (s *Store) CreateBorrowing(ctx context.Context, borrowing models.Borrowing) (models.Borrowing, error) {
	query, args, err := builder().Insert(tableBorrowings).
		Rows(borrowingRecord(borrowing)).
		Prepared(true).ToSQL()
	if err != nil {
		return models.Borrowing{}, fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return models.Borrowing{}, mapInsertErr(err)
	}
	return borrowing, nil
}

func borrowingRecord(b models.Borrowing) goqu.Record {
	return goqu.Record{
		"id":            b.ID,
		"copy_id":       b.CopyID,
		"member_id":     b.MemberID,
		"borrow_date":   b.BorrowDate,
		"due_date":      b.DueDate,
		"return_date":   timestampOrNil(b.ReturnDate),
		"status":        b.Status,
		"renewal_count": b.RenewalCount,
		"fine_amount":   numericFromDecimal(b.FineAmount),
		"updated_at":    b.UpdatedAt,
		"created_at":    b.CreatedAt,
	}
}

func (s *Store) GetBorrowing(ctx context.Context, id string) (models.Borrowing, error) {
	query, args, err := builder().From(tableBorrowings).
		Select(borrowingColumns...).
		Where(goqu.Ex{"id": id}).
		Prepared(true).ToSQL()
	if err != nil {
		return models.Borrowing{}, fmt.Errorf("failed to build query: %w", err)
	}

	b, err := scanBorrowing(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Borrowing{}, database.ErrNotFound
	}
	return b, err
}

func (s *Store) UpdateBorrowing(ctx context.Context, borrowing models.Borrowing) (models.Borrowing, error) {
	record := borrowingRecord(borrowing)
	delete(record, "id")
	delete(record, "created_at")

	query, args, err := builder().Update(tableBorrowings).
		Set(record).
		Where(goqu.Ex{"id": borrowing.ID}).
		Prepared(true).ToSQL()
	if err != nil {
		return models.Borrowing{}, fmt.Errorf("failed to build update: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return models.Borrowing{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Borrowing{}, database.ErrNotFound
	}
	return borrowing, nil
}

func (s *Store) DeleteBorrowing(ctx context.Context, id string) error {
	query, args, err := builder().Delete(tableBorrowings).
		Where(goqu.Ex{"id": id}).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (s *Store) queryBorrowings(ctx context.Context, query string, args []any) ([]models.Borrowing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var borrowings []models.Borrowing
	for rows.Next() {
		b, err := scanBorrowing(rows)
		if err != nil {
			return nil, err
		}
		borrowings = append(borrowings, b)
	}
	return borrowings, rows.Err()
}

func (s *Store) ListOpenBorrowingsByMember(ctx context.Context, memberID string) ([]models.Borrowing, error) {
	query, args, err := builder().From(tableBorrowings).
		Select(borrowingColumns...).
		Where(goqu.Ex{
			"member_id": memberID,
			"status":    []any{models.BorrowingStatusActive, models.BorrowingStatusOverdue},
		}).
		Order(goqu.I("borrow_date").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.queryBorrowings(ctx, query, args)
}

func (s *Store) GetOpenBorrowingByCopy(ctx context.Context, copyID string) (models.Borrowing, error) {
	query, args, err := builder().From(tableBorrowings).
		Select(borrowingColumns...).
		Where(goqu.Ex{
			"copy_id": copyID,
			"status":  []any{models.BorrowingStatusActive, models.BorrowingStatusOverdue},
		}).
		Limit(1).
		Prepared(true).ToSQL()
	if err != nil {
		return models.Borrowing{}, fmt.Errorf("failed to build query: %w", err)
	}

	b, err := scanBorrowing(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Borrowing{}, database.ErrNotFound
	}
	return b, err
}

func (s *Store) ListActiveDueBefore(ctx context.Context, asOf time.Time) ([]models.Borrowing, error) {
	query, args, err := builder().From(tableBorrowings).
		Select(borrowingColumns...).
		Where(
			goqu.Ex{"status": models.BorrowingStatusActive},
			goqu.C("due_date").Lt(asOf),
		).
		Order(goqu.I("due_date").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.queryBorrowings(ctx, query, args)
}

func (s *Store) ListOverdueBorrowings(ctx context.Context) ([]models.Borrowing, error) {
	query, args, err := builder().From(tableBorrowings).
		Select(borrowingColumns...).
		Where(goqu.Ex{"status": models.BorrowingStatusOverdue}).
		Order(goqu.I("due_date").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.queryBorrowings(ctx, query, args)
}

// --- fines ---

var fineColumns = []any{"id", "borrowing_id", "amount", "status", "created_at", "updated_at"}

func scanFine(row pgx.Row) (models.Fine, error) {
	var f models.Fine
	var amount pgtype.Numeric

	err := row.Scan(&f.ID, &f.BorrowingID, &amount, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return models.Fine{}, err
	}
	f.Amount = decimalFromNumeric(amount)
	return f, nil
}

func (s *Store) CreateFine(ctx context.Context, fine models.Fine) (models.Fine, error) {
	query, args, err := builder().Insert(tableFines).
		Rows(goqu.Record{
			"id":           fine.ID,
			"borrowing_id": fine.BorrowingID,
			"amount":       numericFromDecimal(fine.Amount),
			"status":       fine.Status,
			"created_at":   fine.CreatedAt,
			"updated_at":   fine.UpdatedAt,
		}).
		Prepared(true).ToSQL()
	if err != nil {
		return models.Fine{}, fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return models.Fine{}, mapInsertErr(err)
	}
	return fine, nil
}

func (s *Store) GetFine(ctx context.Context, id string) (models.Fine, error) {
	query, args, err := builder().From(tableFines).
		Select(fineColumns...).
		Where(goqu.Ex{"id": id}).
		Prepared(true).ToSQL()
	if err != nil {
		return models.Fine{}, fmt.Errorf("failed to build query: %w", err)
	}

	f, err := scanFine(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Fine{}, database.ErrNotFound
	}
	return f, err
}

func (s *Store) UpdateFine(ctx context.Context, fine models.Fine) (models.Fine, error) {
	query, args, err := builder().Update(tableFines).
		Set(goqu.Record{
			"amount":     numericFromDecimal(fine.Amount),
			"status":     fine.Status,
			"updated_at": fine.UpdatedAt,
		}).
		Where(goqu.Ex{"id": fine.ID}).
		Prepared(true).ToSQL()
	if err != nil {
		return models.Fine{}, fmt.Errorf("failed to build update: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return models.Fine{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Fine{}, database.ErrNotFound
	}
	return fine, nil
}

func (s *Store) DeleteFine(ctx context.Context, id string) error {
	query, args, err := builder().Delete(tableFines).
		Where(goqu.Ex{"id": id}).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (s *Store) GetPendingFineByBorrowing(ctx context.Context, borrowingID string) (models.Fine, error) {
	query, args, err := builder().From(tableFines).
		Select(fineColumns...).
		Where(goqu.Ex{
			"borrowing_id": borrowingID,
			"status":       models.FineStatusPending,
		}).
		Limit(1).
		Prepared(true).ToSQL()
	if err != nil {
		return models.Fine{}, fmt.Errorf("failed to build query: %w", err)
	}

	f, err := scanFine(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Fine{}, database.ErrNotFound
	}
	return f, err
}

func (s *Store) SumPendingFinesByMember(ctx context.Context, memberID string) (decimal.Decimal, error) {
	query, args, err := builder().From(tableFines).
		Join(goqu.T(tableBorrowings), goqu.On(goqu.I(tableFines+".borrowing_id").Eq(goqu.I(tableBorrowings+".id")))).
		Select(goqu.COALESCE(goqu.SUM(tableFines+".amount"), 0)).
		Where(goqu.Ex{
			tableFines + ".status":        models.FineStatusPending,
			tableBorrowings + ".member_id": memberID,
		}).
		Prepared(true).ToSQL()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build query: %w", err)
	}

	var total pgtype.Numeric
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return decimalFromNumeric(total), nil
}

// --- members ---

func (s *Store) GetMember(ctx context.Context, memberID string) (models.Member, error) {
	query, args, err := builder().From(tableMembers).
		Select("id", "is_active", "created_at", "updated_at").
		Where(goqu.Ex{"id": memberID}).
		Prepared(true).ToSQL()
	if err != nil {
		return models.Member{}, fmt.Errorf("failed to build query: %w", err)
	}

	var m models.Member
	err = s.pool.QueryRow(ctx, query, args...).Scan(&m.ID, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Member{}, database.ErrNotFound
	}
	return m, err
}

// --- ReservationStore ---

var reservationColumns = []any{
	"id", "book_id", "member_id", "reservation_date", "status",
	"queue_position", "copy_id", "pickup_expiry_date", "created_at", "updated_at",
}

func scanReservation(row pgx.Row) (models.Reservation, error) {
	var r models.Reservation
	var copyID pgtype.Text
	var pickupExpiry pgtype.Timestamptz

	err := row.Scan(&r.ID, &r.BookID, &r.MemberID, &r.ReservationDate, &r.Status,
		&r.QueuePosition, &copyID, &pickupExpiry, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return models.Reservation{}, err
	}

	if copyID.Valid {
		r.CopyID = copyID.String
	}
	if pickupExpiry.Valid {
		t := pickupExpiry.Time
		r.PickupExpiryDate = &t
	}
	return r, nil
}

func reservationRecord(r models.Reservation) goqu.Record {
	var copyID any
	if r.CopyID != "" {
		copyID = r.CopyID
	}
	return goqu.Record{
		"id":                 r.ID,
		"book_id":            r.BookID,
		"member_id":          r.MemberID,
		"reservation_date":   r.ReservationDate,
		"status":             r.Status,
		"queue_position":     r.QueuePosition,
		"copy_id":            copyID,
		"pickup_expiry_date": timestampOrNil(r.PickupExpiryDate),
		"created_at":         r.CreatedAt,
		"updated_at":         r.UpdatedAt,
	}
}

func (s *Store) CreateReservation(ctx context.Context, reservation models.Reservation) (models.Reservation, error) {
	query, args, err := builder().Insert(tableReservations).
		Rows(reservationRecord(reservation)).
		Prepared(true).ToSQL()
	if err != nil {
		return models.Reservation{}, fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return models.Reservation{}, mapInsertErr(err)
	}
	return reservation, nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (models.Reservation, error) {
	query, args, err := builder().From(tableReservations).
		Select(reservationColumns...).
		Where(goqu.Ex{"id": id}).
		Prepared(true).ToSQL()
	if err != nil {
		return models.Reservation{}, fmt.Errorf("failed to build query: %w", err)
	}

	r, err := scanReservation(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Reservation{}, database.ErrNotFound
	}
	return r, err
}

func (s *Store) UpdateReservation(ctx context.Context, reservation models.Reservation) (models.Reservation, error) {
	record := reservationRecord(reservation)
	delete(record, "id")
	delete(record, "created_at")

	query, args, err := builder().Update(tableReservations).
		Set(record).
		Where(goqu.Ex{"id": reservation.ID}).
		Prepared(true).ToSQL()
	if err != nil {
		return models.Reservation{}, fmt.Errorf("failed to build update: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return models.Reservation{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Reservation{}, database.ErrNotFound
	}
	return reservation, nil
}

func (s *Store) queryReservations(ctx context.Context, query string, args []any) ([]models.Reservation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

func (s *Store) ListPendingReservationsByBook(ctx context.Context, bookID string) ([]models.Reservation, error) {
	query, args, err := builder().From(tableReservations).
		Select(reservationColumns...).
		Where(goqu.Ex{
			"book_id": bookID,
			"status":  models.ReservationStatusPending,
		}).
		Order(goqu.I("reservation_date").Asc(), goqu.I("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.queryReservations(ctx, query, args)
}

func (s *Store) ListOpenReservationsByMember(ctx context.Context, memberID string) ([]models.Reservation, error) {
	query, args, err := builder().From(tableReservations).
		Select(reservationColumns...).
		Where(goqu.Ex{
			"member_id": memberID,
			"status":    []any{models.ReservationStatusPending, models.ReservationStatusReadyForPickup},
		}).
		Order(goqu.I("reservation_date").Asc(), goqu.I("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.queryReservations(ctx, query, args)
}

func (s *Store) ListExpiredPickups(ctx context.Context, asOf time.Time) ([]models.Reservation, error) {
	query, args, err := builder().From(tableReservations).
		Select(reservationColumns...).
		Where(
			goqu.Ex{"status": models.ReservationStatusReadyForPickup},
			goqu.C("pickup_expiry_date").Lt(asOf),
		).
		Order(goqu.I("reservation_date").Asc(), goqu.I("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.queryReservations(ctx, query, args)
}

func (s *Store) GetReadyReservationByCopy(ctx context.Context, copyID string) (models.Reservation, error) {
	query, args, err := builder().From(tableReservations).
		Select(reservationColumns...).
		Where(goqu.Ex{
			"copy_id": copyID,
			"status":  models.ReservationStatusReadyForPickup,
		}).
		Limit(1).
		Prepared(true).ToSQL()
	if err != nil {
		return models.Reservation{}, fmt.Errorf("failed to build query: %w", err)
	}

	r, err := scanReservation(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Reservation{}, database.ErrNotFound
	}
	return r, err
}

// --- conversions ---

// numericFromDecimal converts a decimal amount to pgtype.Numeric with two
// decimal places.
func numericFromDecimal(d decimal.Decimal) pgtype.Numeric {
	scaled := d.Shift(2)
	return pgtype.Numeric{
		Int:   scaled.BigInt(),
		Exp:   -2,
		Valid: true,
	}
}

// decimalFromNumeric converts a pgtype.Numeric back to decimal, preserving
// the stored scale.
func decimalFromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func timestampOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
