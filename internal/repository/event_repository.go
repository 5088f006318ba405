package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = `id, title, venue, capacity, available_seats, event_time, version, created_at, updated_at`

// EventRepository reads and writes event inventory rows.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.Title, &e.Venue, &e.Capacity, &e.AvailableSeats,
		&e.EventTime, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgInvalidTextRep {
			return nil, model.ErrEventNotFound
		}
		return nil, err
	}
	return &e, nil
}

// Create inserts an inventory row with every seat available.
func (r *EventRepository) Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
INSERT INTO events (id, title, venue, capacity, available_seats, event_time)
VALUES ($1, $2, $3, $4, $4, $5)
RETURNING `+eventColumns,
		uuid.NewString(), req.Title, req.Venue, req.Capacity, req.EventTime,
	)
	e, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// GetEvent returns the row without locking it. Inside an optimistic
// transaction the returned Version guards the following write.
func (r *EventRepository) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, model.ErrEventNotFound) {
			return nil, err
		}
		return nil, mapPgError("get event", err)
	}
	return e, nil
}

// lockForUpdate takes the row lock for the rest of the transaction.
func (r *EventRepository) lockForUpdate(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, model.ErrEventNotFound) {
			return nil, err
		}
		return nil, mapPgError("lock event row", err)
	}
	return e, nil
}

// DecrementSeats subtracts n seats from ev. The write only applies if the row
// is still at ev.Version and has n seats left; otherwise it returns
// model.ErrStaleInventory. On success ev is updated in place.
func (r *EventRepository) DecrementSeats(ctx context.Context, ev *model.Event, n int) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
UPDATE events
SET available_seats = available_seats - $2, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $3 AND available_seats >= $2`,
		ev.ID, n, ev.Version,
	)
	if err != nil {
		return mapPgError("decrement seats", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrStaleInventory
	}
	ev.AvailableSeats -= n
	ev.Version++
	return nil
}

// IncrementSeats returns n seats to ev, never beyond capacity.
func (r *EventRepository) IncrementSeats(ctx context.Context, ev *model.Event, n int) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
UPDATE events
SET available_seats = available_seats + $2, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $3 AND available_seats + $2 <= capacity`,
		ev.ID, n, ev.Version,
	)
	if err != nil {
		return mapPgError("increment seats", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrStaleInventory
	}
	ev.AvailableSeats += n
	ev.Version++
	return nil
}

// AuditEvent compares the seat counter with the confirmed tickets in the ledger.
func (r *EventRepository) AuditEvent(ctx context.Context, id string) (*model.InventoryAudit, error) {
	var capacity, available, confirmed int
	err := conn(ctx, r.db).QueryRow(ctx, `
SELECT e.capacity, e.available_seats,
       COALESCE(SUM(b.number_of_tickets) FILTER (WHERE b.status = 'confirmed'), 0)
FROM events e
LEFT JOIN bookings b ON b.event_id = e.id
WHERE e.id = $1
GROUP BY e.id`, id,
	).Scan(&capacity, &available, &confirmed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgInvalidTextRep {
			return nil, model.ErrEventNotFound
		}
		return nil, mapPgError("audit event", err)
	}
	return model.NewInventoryAudit(id, capacity, available, confirmed), nil
}
