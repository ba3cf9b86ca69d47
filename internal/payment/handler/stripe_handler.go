package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"bus-ticketing/internal/logger"
	"bus-ticketing/internal/models"
	"bus-ticketing/internal/tickets"
)

// TicketCreator is the slice of the ticket service the webhook needs.
type TicketCreator interface {
	Create(ctx context.Context, data tickets.CreateTicketData) (*models.Ticket, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.Ticket, error)
}

// TicketDispatcher hands a committed ticket to the email pipeline.
// kafka.Producer satisfies it directly.
type TicketDispatcher interface {
	PublishTicketCreated(ctx context.Context, ticket models.Ticket) error
}

// WebhookError carries both a safe public message and the detailed internal
// one for logs.
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int
	PublicError   string
	InternalError string
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

type StripeHandler struct {
	ticketService TicketCreator
	dispatcher    TicketDispatcher
	webhookSecret string
	logger        *logger.Logger
	clock         func() time.Time
}

func NewStripeHandler(ticketService TicketCreator, dispatcher TicketDispatcher, webhookSecret string, log *logger.Logger) *StripeHandler {
	return &StripeHandler{
		ticketService: ticketService,
		dispatcher:    dispatcher,
		webhookSecret: webhookSecret,
		logger:        log,
		clock:         time.Now,
	}
}

// HandleWebhook verifies and processes Stripe webhook deliveries. Once the
// payload is authenticated, data problems are acknowledged with 200 so the
// provider never retry-storms an event that can never succeed.
func (h *StripeHandler) HandleWebhook(c *gin.Context) {
	event, whErr := h.constructEvent(c.Request)
	if whErr != nil {
		h.logger.Error("WEBHOOK", whErr.InternalError)
		c.JSON(whErr.StatusCode, gin.H{"error": whErr.PublicError})
		return
	}

	h.logger.Info("WEBHOOK", fmt.Sprintf("Processing Stripe webhook event: %s", event.Type))

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			h.logger.Error("WEBHOOK", fmt.Sprintf("Failed to unmarshal checkout session: %v", err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event data"})
			return
		}
		h.handleCheckoutCompleted(c.Request.Context(), session)

	case "checkout.session.expired", "payment_intent.payment_failed":
		h.logger.Info("WEBHOOK", fmt.Sprintf("Payment did not complete (%s), no ticket issued", event.Type))

	default:
		h.logger.Info("WEBHOOK", fmt.Sprintf("Unhandled event type: %s", event.Type))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *StripeHandler) constructEvent(r *http.Request) (stripe.Event, *WebhookError) {
	if h.webhookSecret == "" {
		return stripe.Event{}, &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return stripe.Event{}, &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook payload",
			InternalError: fmt.Sprintf("Failed to read webhook payload: %v", err),
			OriginalErr:   err,
		}
	}

	opts := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret, opts)
	if err != nil {
		return stripe.Event{}, &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook signature",
			InternalError: fmt.Sprintf("Webhook signature verification failed: %v", err),
			OriginalErr:   err,
		}
	}
	return event, nil
}

// handleCheckoutCompleted drives ticket issuance for one completed payment.
// Email delivery is dispatched after the ticket commit and never affects the
// webhook outcome.
func (h *StripeHandler) handleCheckoutCompleted(ctx context.Context, session stripe.CheckoutSession) {
	// The provider may redeliver the same session; the session id is the
	// natural dedupe key.
	existing, err := h.ticketService.FindBySessionID(ctx, session.ID)
	if err == nil {
		h.logger.Info("WEBHOOK", fmt.Sprintf("Session %s already produced ticket %s, skipping", session.ID, existing.TicketNumber))
		return
	}
	if !errors.Is(err, tickets.ErrTicketNotFound) {
		h.logger.Error("WEBHOOK", fmt.Sprintf("Failed idempotency lookup for session %s: %v", session.ID, err))
		return
	}

	data, ok := h.extractTicketData(session)
	if !ok {
		return
	}

	ticket, err := h.ticketService.Create(ctx, data)
	if err != nil {
		if errors.Is(err, tickets.ErrDuplicateTicketNumber) || tickets.IsClientError(err) {
			// Money has moved; this is a reconciliation problem, not a
			// webhook failure.
			h.logger.Error("WEBHOOK", fmt.Sprintf("Ticket creation for session %s needs manual reconciliation: %v", session.ID, err))
			return
		}
		h.logger.Error("WEBHOOK", fmt.Sprintf("Failed to create ticket for session %s: %v", session.ID, err))
		return
	}

	h.logger.LogTicket("ISSUE", ticket.TicketNumber, fmt.Sprintf("payment session %s", session.ID))

	if err := h.dispatcher.PublishTicketCreated(ctx, *ticket); err != nil {
		h.logger.Error("WEBHOOK", fmt.Sprintf("Failed to dispatch confirmation for %s: %v", ticket.TicketNumber, err))
	}
}

// extractTicketData maps checkout-session metadata onto ticket fields. A
// missing required field is logged and dropped: the webhook must still be
// acknowledged.
func (h *StripeHandler) extractTicketData(session stripe.CheckoutSession) (tickets.CreateTicketData, bool) {
	meta := session.Metadata

	email := meta["email"]
	if email == "" && session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}

	data := tickets.CreateTicketData{
		Name:              meta["name"],
		Surname:           meta["surname"],
		Email:             email,
		PassengerCount:    parsePassengerCount(meta["passenger_count"]),
		RideID:            meta["ride_id"],
		OriginStopID:      meta["origin_stop_id"],
		DestinationStopID: meta["destination_stop_id"],
		DepartureDate:     h.departureDate(meta["departure_date"], session.ID),
		DepartureTime:     meta["departure_time"],
		AmountPaid:        session.AmountTotal,
		PaymentStatus:     models.PaymentStatusCompleted,
		PaymentSessionID:  session.ID,
	}
	if session.PaymentIntent != nil {
		data.PaymentIntentID = session.PaymentIntent.ID
	}

	required := map[string]string{
		"ride_id":             data.RideID,
		"name":                data.Name,
		"surname":             data.Surname,
		"email":               data.Email,
		"departure_time":      data.DepartureTime,
		"origin_stop_id":      data.OriginStopID,
		"destination_stop_id": data.DestinationStopID,
	}
	for field, value := range required {
		if value == "" {
			h.logger.Error("WEBHOOK", fmt.Sprintf("Session %s is missing %s, no ticket can ever be issued for it", session.ID, field))
			return tickets.CreateTicketData{}, false
		}
	}

	return data, true
}

// departureDate falls back to today when the metadata value is absent or one
// of the junk literals some clients send.
func (h *StripeHandler) departureDate(raw, sessionID string) string {
	switch raw {
	case "", "null", "undefined":
		today := h.clock().Format("2006-01-02")
		h.logger.Warn("WEBHOOK", fmt.Sprintf("Session %s has no departure date, falling back to today (%s)", sessionID, today))
		return today
	}
	// ISO datetimes are truncated to their date part.
	if len(raw) > 10 && strings.Contains(raw, "T") {
		return raw[:10]
	}
	return raw
}

func parsePassengerCount(raw string) int {
	count, err := strconv.Atoi(raw)
	if err != nil || count < 1 {
		return 1
	}
	return count
}
