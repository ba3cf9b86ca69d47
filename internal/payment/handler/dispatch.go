package handlers

import (
	"context"
	"fmt"

	"bus-ticketing/internal/email"
	"bus-ticketing/internal/logger"
	"bus-ticketing/internal/models"
)

// LocalDispatcher sends confirmations from an in-process goroutine. Used when
// Kafka is disabled or mocked; the at-least-once audit trail still comes from
// the EmailLog rows.
type LocalDispatcher struct {
	Confirmer *email.Confirmer
	Logger    *logger.Logger
}

func NewLocalDispatcher(confirmer *email.Confirmer, log *logger.Logger) *LocalDispatcher {
	return &LocalDispatcher{Confirmer: confirmer, Logger: log}
}

func (d *LocalDispatcher) PublishTicketCreated(ctx context.Context, ticket models.Ticket) error {
	go func() {
		// Detached from the webhook request lifetime on purpose.
		res := d.Confirmer.ConfirmTicket(context.Background(), ticket)
		if !res.Success {
			d.Logger.Error("EMAIL", fmt.Sprintf("Confirmation for %s not delivered: %s", ticket.TicketNumber, res.Error))
		}
	}()
	return nil
}
