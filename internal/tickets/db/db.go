package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"bus-ticketing/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateTicket(ctx context.Context, ticket models.Ticket) error {
	_, err := d.Bun.NewInsert().Model(&ticket).Exec(ctx)
	return err
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketByNumber(ctx context.Context, ticketNumber string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_number = ?", ticketNumber).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketsByEmail(ctx context.Context, email string) ([]models.Ticket, error) {
	tickets := []models.Ticket{}
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("email = ?", email).
		Order("purchased_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (d *DB) GetTicketBySessionID(ctx context.Context, sessionID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("payment_session_id = ?", sessionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// SetValidated flips the driver-validation flag and returns the stored row.
// The update is idempotent: re-applying the same value only bumps updated_at.
func (d *DB) SetValidated(ctx context.Context, id string, validated bool, now time.Time) (*models.Ticket, error) {
	_, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("validated = ?", validated).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return d.GetTicketByID(ctx, id)
}

// ListByRideAndDate returns completed-payment tickets for a ride, optionally
// narrowed to one departure date.
func (d *DB) ListByRideAndDate(ctx context.Context, rideID, date string) ([]models.Ticket, error) {
	tickets := []models.Ticket{}
	q := d.Bun.NewSelect().
		Model(&tickets).
		Where("ride_id = ?", rideID).
		Where("payment_status = ?", models.PaymentStatusCompleted)
	if date != "" {
		q = q.Where("departure_date = ?", date)
	}
	err := q.Order("ticket_number ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// TicketNumbersByPrefix feeds the number generator with every number already
// issued in a bucket.
func (d *DB) TicketNumbersByPrefix(ctx context.Context, prefix string) ([]string, error) {
	numbers := []string{}
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("ticket_number").
		Where("ticket_number LIKE ?", prefix+"%").
		Scan(ctx, &numbers)
	if err != nil {
		return nil, err
	}
	return numbers, nil
}

func (d *DB) RideExists(ctx context.Context, rideID string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Ride)(nil)).
		Where("id = ?", rideID).
		Exists(ctx)
}

func (d *DB) StopExists(ctx context.Context, stopID string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Stop)(nil)).
		Where("id = ?", stopID).
		Exists(ctx)
}

func (d *DB) GetStopByID(ctx context.Context, stopID string) (*models.Stop, error) {
	var stop models.Stop
	err := d.Bun.NewSelect().
		Model(&stop).
		Where("id = ?", stopID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &stop, nil
}

func (d *DB) InsertEmailLog(ctx context.Context, entry models.EmailLog) error {
	_, err := d.Bun.NewInsert().Model(&entry).Exec(ctx)
	return err
}

func (d *DB) EmailLogsByTicket(ctx context.Context, ticketNumber string) ([]models.EmailLog, error) {
	logs := []models.EmailLog{}
	err := d.Bun.NewSelect().
		Model(&logs).
		Where("ticket_number = ?", ticketNumber).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// IsUniqueViolation reports whether err is a uniqueness-constraint failure,
// covering both the postgres driver and the sqlite driver used in tests.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
