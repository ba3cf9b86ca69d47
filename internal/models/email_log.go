package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	EmailStatusSent     = "sent"
	EmailStatusFailed   = "failed"
	EmailStatusRetrying = "retrying"
)

// EmailLog is an append-only audit trail: one row per send attempt.
type EmailLog struct {
	bun.BaseModel `bun:"table:email_logs"`

	ID           string    `bun:"id,pk" json:"id"`
	TicketNumber string    `bun:"ticket_number,notnull" json:"ticket_number"`
	Recipient    string    `bun:"recipient,notnull" json:"recipient"`
	Status       string    `bun:"status,notnull" json:"status"`
	MessageID    string    `bun:"message_id,nullzero" json:"message_id,omitempty"`
	Error        string    `bun:"error,nullzero" json:"error,omitempty"`
	Attempt      int       `bun:"attempt,notnull" json:"attempt"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
}
