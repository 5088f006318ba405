package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bookingColumns = `b.id, b.user_id, b.event_id, b.number_of_tickets, b.status, b.created_at, b.updated_at`

// BookingRepository is the booking ledger.
type BookingRepository struct {
	db *pgxpool.Pool
}

// NewBookingRepository constructs a BookingRepository.
func NewBookingRepository(db *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{db: db}
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	err := row.Scan(&b.ID, &b.UserID, &b.EventID, &b.NumberOfTickets, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// FindConfirmed returns the user's confirmed booking for the event, or nil.
func (r *BookingRepository) FindConfirmed(ctx context.Context, userID, eventID string) (*model.Booking, error) {
	b, err := scanBooking(conn(ctx, r.db).QueryRow(ctx, `
SELECT `+bookingColumns+`
FROM bookings b
WHERE b.user_id = $1 AND b.event_id = $2 AND b.status = 'confirmed'`,
		userID, eventID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgInvalidTextRep {
			return nil, nil
		}
		return nil, mapPgError("find confirmed booking", err)
	}
	return b, nil
}

// CreateBooking inserts a new booking. A second confirmed booking for the
// same user and event violates the partial unique index and is reported as
// model.ErrDuplicateBooking.
func (r *BookingRepository) CreateBooking(ctx context.Context, b *model.Booking) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
INSERT INTO bookings (id, user_id, event_id, number_of_tickets, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.UserID, b.EventID, b.NumberOfTickets, b.Status, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return model.ErrDuplicateBooking
		case pgForeignKeyViolation:
			return model.ErrEventNotFound
		}
		return mapPgError("insert booking", err)
	}
	return nil
}

// GetBooking returns a booking by id or model.ErrBookingNotFound.
func (r *BookingRepository) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings b WHERE b.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgInvalidTextRep {
			return nil, model.ErrBookingNotFound
		}
		return nil, mapPgError("get booking", err)
	}
	return b, nil
}

// MarkCancelled moves a confirmed booking to cancelled. If the booking is no
// longer confirmed the update matches nothing and
// model.ErrConcurrentModification is returned.
func (r *BookingRepository) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
UPDATE bookings SET status = 'cancelled', updated_at = $2
WHERE id = $1 AND status = 'confirmed'`, id, at)
	if err != nil {
		return mapPgError("cancel booking", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrConcurrentModification
	}
	return nil
}

// ListByUser returns one page of the user's bookings, newest first, joined
// with the event's title, time and venue.
func (r *BookingRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.BookingView, error) {
	return r.listViews(ctx, "list user bookings", `WHERE b.user_id = $1`, []any{userID}, limit, offset)
}

// CountByUser counts all of the user's bookings.
func (r *BookingRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := conn(ctx, r.db).QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, mapPgError("count user bookings", err)
	}
	return n, nil
}

// ListBookings returns a filtered page of all bookings and the total count
// matching the filter.
func (r *BookingRepository) ListBookings(ctx context.Context, f model.BookingFilter) ([]model.BookingView, int, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.UserID != "" {
		add("b.user_id = $%d", f.UserID)
	}
	if f.EventID != "" {
		add("b.event_id::text = $%d", f.EventID)
	}
	if f.Status != "" {
		add("b.status = $%d", string(f.Status))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := conn(ctx, r.db).QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings b `+where, args...).Scan(&total); err != nil {
		return nil, 0, mapPgError("count bookings", err)
	}

	views, err := r.listViews(ctx, "list bookings", where, args, f.PageSize, f.Offset())
	if err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

func (r *BookingRepository) listViews(ctx context.Context, op, where string, args []any, limit, offset int) ([]model.BookingView, error) {
	n := len(args)
	query := fmt.Sprintf(`
SELECT `+bookingColumns+`, e.title, e.event_time, e.venue
FROM bookings b
JOIN events e ON e.id = b.event_id
%s
ORDER BY b.created_at DESC, b.id
LIMIT $%d OFFSET $%d`, where, n+1, n+2)

	rows, err := conn(ctx, r.db).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, mapPgError(op, err)
	}
	defer rows.Close()

	var views []model.BookingView
	for rows.Next() {
		var v model.BookingView
		if err := rows.Scan(&v.ID, &v.UserID, &v.EventID, &v.NumberOfTickets, &v.Status,
			&v.CreatedAt, &v.UpdatedAt, &v.EventTitle, &v.EventTime, &v.Venue); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(op, err)
	}
	return views, nil
}
