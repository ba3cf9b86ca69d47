package email

import (
	"context"
	"fmt"

	"bus-ticketing/internal/models"
)

// StopStore resolves stop ids into passenger-facing names.
type StopStore interface {
	GetStopByID(ctx context.Context, stopID string) (*models.Stop, error)
}

// Confirmer turns an issued ticket into a confirmation email. It is the
// single consumer-side entry point for both the kafka path and the
// in-process dispatch path.
type Confirmer struct {
	Service *Service
	Stops   StopStore
}

func NewConfirmer(service *Service, stops StopStore) *Confirmer {
	return &Confirmer{Service: service, Stops: stops}
}

// ConfirmTicket sends the confirmation with retries. Stop-name lookups fall
// back to the raw ids so a missing stop row never blocks the email.
func (c *Confirmer) ConfirmTicket(ctx context.Context, ticket models.Ticket) Result {
	data := TicketEmailData{
		TicketNumber:    ticket.TicketNumber,
		Name:            ticket.Name,
		Surname:         ticket.Surname,
		Email:           ticket.Email,
		PassengerCount:  ticket.PassengerCount,
		OriginName:      c.stopName(ctx, ticket.OriginStopID),
		DestinationName: c.stopName(ctx, ticket.DestinationStopID),
		DepartureDate:   ticket.DepartureDate,
		DepartureTime:   ticket.DepartureTime,
		AmountPaid:      ticket.AmountPaid,
		PurchasedAt:     ticket.PurchasedAt,
	}
	return c.Service.SendWithRetry(ctx, data)
}

// SendForTicket adapts ConfirmTicket to the kafka consumer handler shape.
// The Result is already fully reflected in the EmailLog rows.
func (c *Confirmer) SendForTicket(ctx context.Context, ticket models.Ticket) {
	c.ConfirmTicket(ctx, ticket)
}

func (c *Confirmer) stopName(ctx context.Context, stopID string) string {
	stop, err := c.Stops.GetStopByID(ctx, stopID)
	if err != nil {
		c.Service.Logger.Warn("EMAIL", fmt.Sprintf("Failed to resolve stop %s: %v", stopID, err))
		return stopID
	}
	return stop.Name
}
