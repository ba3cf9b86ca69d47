package tickets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"bus-ticketing/internal/logger"
	"bus-ticketing/internal/models"
	ticketdb "bus-ticketing/internal/tickets/db"
	"bus-ticketing/internal/tickets/lock"
	"bus-ticketing/internal/tickets/numbering"
)

var (
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	dateRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRe  = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

// maxCreateAttempts bounds the regenerate-on-conflict loop. The bucket lock
// should make a conflict impossible; the unique index plus this retry is the
// second line of defense.
const maxCreateAttempts = 3

type DBLayer interface {
	CreateTicket(ctx context.Context, ticket models.Ticket) error
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketByNumber(ctx context.Context, ticketNumber string) (*models.Ticket, error)
	GetTicketsByEmail(ctx context.Context, email string) ([]models.Ticket, error)
	GetTicketBySessionID(ctx context.Context, sessionID string) (*models.Ticket, error)
	SetValidated(ctx context.Context, id string, validated bool, now time.Time) (*models.Ticket, error)
	ListByRideAndDate(ctx context.Context, rideID, date string) ([]models.Ticket, error)
	TicketNumbersByPrefix(ctx context.Context, prefix string) ([]string, error)
	RideExists(ctx context.Context, rideID string) (bool, error)
	StopExists(ctx context.Context, stopID string) (bool, error)
	EmailLogsByTicket(ctx context.Context, ticketNumber string) ([]models.EmailLog, error)
}

type CreateTicketData struct {
	Name              string `json:"name"`
	Surname           string `json:"surname"`
	Email             string `json:"email"`
	PassengerCount    int    `json:"passenger_count"`
	RideID            string `json:"ride_id"`
	OriginStopID      string `json:"origin_stop_id"`
	DestinationStopID string `json:"destination_stop_id"`
	DepartureDate     string `json:"departure_date"`
	DepartureTime     string `json:"departure_time"`
	AmountPaid        int64  `json:"amount_paid"`
	PaymentStatus     string `json:"payment_status"`
	PaymentSessionID  string `json:"payment_session_id"`
	PaymentIntentID   string `json:"payment_intent_id"`
}

type TicketService struct {
	DB        DBLayer
	Locker    lock.BucketLocker
	Generator *numbering.Generator
	Logger    *logger.Logger
	Clock     func() time.Time
}

func NewTicketService(db DBLayer, locker lock.BucketLocker, log *logger.Logger) *TicketService {
	return &TicketService{
		DB:        db,
		Locker:    locker,
		Generator: numbering.NewGenerator(db),
		Logger:    log,
		Clock:     time.Now,
	}
}

// Create validates the purchase data, serializes on the numbering bucket,
// assigns the next ticket number and persists the row. A uniqueness conflict
// triggers number regeneration up to maxCreateAttempts times.
func (s *TicketService) Create(ctx context.Context, data CreateTicketData) (*models.Ticket, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, data); err != nil {
		return nil, err
	}

	prefix, err := numbering.Prefix(data.RideID, data.DepartureTime, data.DepartureDate)
	if err != nil {
		return nil, &ValidationError{Field: "departure_date", Reason: err.Error()}
	}

	release, err := s.Locker.Acquire(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire bucket lock %s: %w", prefix, err)
	}
	defer release()

	status := data.PaymentStatus
	if status == "" {
		status = models.PaymentStatusCompleted
	}

	var lastErr error
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		number, err := s.Generator.Next(ctx, data.RideID, data.DepartureTime, data.DepartureDate)
		if err != nil {
			return nil, err
		}

		now := s.Clock()
		ticket := models.Ticket{
			ID:                uuid.New().String(),
			TicketNumber:      number,
			Name:              data.Name,
			Surname:           data.Surname,
			Email:             data.Email,
			PassengerCount:    data.PassengerCount,
			RideID:            data.RideID,
			OriginStopID:      data.OriginStopID,
			DestinationStopID: data.DestinationStopID,
			DepartureDate:     data.DepartureDate,
			DepartureTime:     data.DepartureTime,
			AmountPaid:        data.AmountPaid,
			PaymentStatus:     status,
			PaymentSessionID:  data.PaymentSessionID,
			PaymentIntentID:   data.PaymentIntentID,
			Validated:         false,
			PurchasedAt:       now,
			UpdatedAt:         now,
		}

		err = s.DB.CreateTicket(ctx, ticket)
		if err == nil {
			s.Logger.LogTicket("CREATE", number, fmt.Sprintf("issued for ride %s (%d passengers)", data.RideID, data.PassengerCount))
			return &ticket, nil
		}
		if !ticketdb.IsUniqueViolation(err) {
			return nil, fmt.Errorf("failed to create ticket: %w", err)
		}

		s.Logger.Warn("TICKET", fmt.Sprintf("Duplicate ticket number %s on attempt %d, regenerating", number, attempt))
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrDuplicateTicketNumber, lastErr)
}

func (s *TicketService) FindByNumber(ctx context.Context, ticketNumber string) (*models.Ticket, error) {
	ticket, err := s.DB.GetTicketByNumber(ctx, ticketNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up ticket %s: %w", ticketNumber, err)
	}
	return ticket, nil
}

func (s *TicketService) FindByEmail(ctx context.Context, email string) ([]models.Ticket, error) {
	tickets, err := s.DB.GetTicketsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up tickets for %s: %w", email, err)
	}
	return tickets, nil
}

func (s *TicketService) FindBySessionID(ctx context.Context, sessionID string) (*models.Ticket, error) {
	ticket, err := s.DB.GetTicketBySessionID(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up ticket for session %s: %w", sessionID, err)
	}
	return ticket, nil
}

// SetValidated flips the boarded flag a driver toggles when checking a
// passenger. Re-applying the current value succeeds without side effects
// beyond the updated_at bump.
func (s *TicketService) SetValidated(ctx context.Context, ticketID string, validated bool) (*models.Ticket, error) {
	if _, err := s.DB.GetTicketByID(ctx, ticketID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to look up ticket %s: %w", ticketID, err)
	}

	ticket, err := s.DB.SetValidated(ctx, ticketID, validated, s.Clock())
	if err != nil {
		return nil, fmt.Errorf("failed to update ticket %s: %w", ticketID, err)
	}
	s.Logger.LogTicket("VALIDATE", ticket.TicketNumber, fmt.Sprintf("validated=%t", validated))
	return ticket, nil
}

// ListByRideAndDate returns completed tickets for a ride. Date is optional;
// callers wanting upcoming departures only filter against today themselves.
func (s *TicketService) ListByRideAndDate(ctx context.Context, rideID, date string) ([]models.Ticket, error) {
	if date != "" && !dateRe.MatchString(date) {
		return nil, &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	tickets, err := s.DB.ListByRideAndDate(ctx, rideID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets for ride %s: %w", rideID, err)
	}
	return tickets, nil
}

func (s *TicketService) EmailLogs(ctx context.Context, ticketNumber string) ([]models.EmailLog, error) {
	logs, err := s.DB.EmailLogsByTicket(ctx, ticketNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list email logs for %s: %w", ticketNumber, err)
	}
	return logs, nil
}

func (s *TicketService) checkReferences(ctx context.Context, data CreateTicketData) error {
	exists, err := s.DB.RideExists(ctx, data.RideID)
	if err != nil {
		return fmt.Errorf("failed to validate ride: %w", err)
	}
	if !exists {
		return &ReferenceError{Kind: "ride", ID: data.RideID}
	}

	for _, stopID := range []string{data.OriginStopID, data.DestinationStopID} {
		exists, err := s.DB.StopExists(ctx, stopID)
		if err != nil {
			return fmt.Errorf("failed to validate stop: %w", err)
		}
		if !exists {
			return &ReferenceError{Kind: "stop", ID: stopID}
		}
	}
	return nil
}

func validate(data CreateTicketData) error {
	switch {
	case data.Name == "":
		return &ValidationError{Field: "name", Reason: "required"}
	case data.Surname == "":
		return &ValidationError{Field: "surname", Reason: "required"}
	case data.RideID == "":
		return &ValidationError{Field: "ride_id", Reason: "required"}
	case data.OriginStopID == "":
		return &ValidationError{Field: "origin_stop_id", Reason: "required"}
	case data.DestinationStopID == "":
		return &ValidationError{Field: "destination_stop_id", Reason: "required"}
	}
	if !emailRe.MatchString(data.Email) {
		return &ValidationError{Field: "email", Reason: "must be a well-formed email address"}
	}
	if !dateRe.MatchString(data.DepartureDate) {
		return &ValidationError{Field: "departure_date", Reason: "must be YYYY-MM-DD"}
	}
	if !timeRe.MatchString(data.DepartureTime) {
		return &ValidationError{Field: "departure_time", Reason: "must be HH:MM"}
	}
	if data.PassengerCount < 1 {
		return &ValidationError{Field: "passenger_count", Reason: "must be a positive integer"}
	}
	if data.AmountPaid < 0 {
		return &ValidationError{Field: "amount_paid", Reason: "must not be negative"}
	}
	if data.PaymentStatus != "" &&
		data.PaymentStatus != models.PaymentStatusPending &&
		data.PaymentStatus != models.PaymentStatusCompleted &&
		data.PaymentStatus != models.PaymentStatusFailed {
		return &ValidationError{Field: "payment_status", Reason: "must be pending, completed or failed"}
	}
	return nil
}
