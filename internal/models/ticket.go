package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID                string    `bun:"id,pk" json:"id"`
	TicketNumber      string    `bun:"ticket_number,unique,notnull" json:"ticket_number"`
	Name              string    `bun:"name,notnull" json:"name"`
	Surname           string    `bun:"surname,notnull" json:"surname"`
	Email             string    `bun:"email,notnull" json:"email"`
	PassengerCount    int       `bun:"passenger_count,notnull" json:"passenger_count"`
	RideID            string    `bun:"ride_id,notnull" json:"ride_id"`
	OriginStopID      string    `bun:"origin_stop_id,notnull" json:"origin_stop_id"`
	DestinationStopID string    `bun:"destination_stop_id,notnull" json:"destination_stop_id"`
	DepartureDate     string    `bun:"departure_date,notnull" json:"departure_date"` // YYYY-MM-DD wall-clock travel date
	DepartureTime     string    `bun:"departure_time,notnull" json:"departure_time"` // HH:MM
	AmountPaid        int64     `bun:"amount_paid,notnull" json:"amount_paid"`       // minor currency units
	PaymentStatus     string    `bun:"payment_status,notnull" json:"payment_status"`
	PaymentSessionID  string    `bun:"payment_session_id,nullzero" json:"payment_session_id,omitempty"`
	PaymentIntentID   string    `bun:"payment_intent_id,nullzero" json:"payment_intent_id,omitempty"`
	Validated         bool      `bun:"validated" json:"validated"`
	PurchasedAt       time.Time `bun:"purchased_at,notnull" json:"purchased_at"`
	UpdatedAt         time.Time `bun:"updated_at,notnull" json:"updated_at"`
}
