package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"bus-ticketing/internal/logger"
	"bus-ticketing/internal/models"
	"bus-ticketing/internal/tickets"
)

type fakeTicketService struct {
	created   []tickets.CreateTicketData
	createErr error
	bySession map[string]*models.Ticket
}

func newFakeTicketService() *fakeTicketService {
	return &fakeTicketService{bySession: make(map[string]*models.Ticket)}
}

func (f *fakeTicketService) Create(_ context.Context, data tickets.CreateTicketData) (*models.Ticket, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, data)
	ticket := &models.Ticket{
		ID:               fmt.Sprintf("id-%d", len(f.created)),
		TicketNumber:     fmt.Sprintf("%s-R42-14-%d", data.DepartureDate, len(f.created)),
		Email:            data.Email,
		PaymentSessionID: data.PaymentSessionID,
	}
	f.bySession[data.PaymentSessionID] = ticket
	return ticket, nil
}

func (f *fakeTicketService) FindBySessionID(_ context.Context, sessionID string) (*models.Ticket, error) {
	if ticket, ok := f.bySession[sessionID]; ok {
		return ticket, nil
	}
	return nil, tickets.ErrTicketNotFound
}

type fakeDispatcher struct {
	published []models.Ticket
	err       error
}

func (f *fakeDispatcher) PublishTicketCreated(_ context.Context, ticket models.Ticket) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, ticket)
	return nil
}

func fixedClock() time.Time {
	return time.Date(2025, 11, 18, 10, 0, 0, 0, time.UTC)
}

func newTestHandler(service *fakeTicketService, dispatcher *fakeDispatcher, secret string) *StripeHandler {
	h := NewStripeHandler(service, dispatcher, secret, logger.NewNop())
	h.clock = fixedClock
	return h
}

func sessionWithMetadata(overrides map[string]string) stripe.CheckoutSession {
	meta := map[string]string{
		"name":                "Mario",
		"surname":             "Rossi",
		"email":               "mario.rossi@example.com",
		"passenger_count":     "2",
		"ride_id":             "R42",
		"origin_stop_id":      "stop-a",
		"destination_stop_id": "stop-b",
		"departure_date":      "2025-11-20",
		"departure_time":      "14:05",
	}
	for k, v := range overrides {
		if v == "" {
			delete(meta, k)
		} else {
			meta[k] = v
		}
	}
	return stripe.CheckoutSession{
		ID:          "cs_test_123",
		AmountTotal: 1250,
		Metadata:    meta,
	}
}

func TestCheckoutCompletedCreatesAndDispatches(t *testing.T) {
	service := newFakeTicketService()
	dispatcher := &fakeDispatcher{}
	h := newTestHandler(service, dispatcher, "whsec_test")

	h.handleCheckoutCompleted(context.Background(), sessionWithMetadata(nil))

	require.Len(t, service.created, 1)
	data := service.created[0]
	assert.Equal(t, "Mario", data.Name)
	assert.Equal(t, "Rossi", data.Surname)
	assert.Equal(t, 2, data.PassengerCount)
	assert.Equal(t, "2025-11-20", data.DepartureDate)
	assert.Equal(t, int64(1250), data.AmountPaid)
	assert.Equal(t, models.PaymentStatusCompleted, data.PaymentStatus)
	assert.Equal(t, "cs_test_123", data.PaymentSessionID)

	require.Len(t, dispatcher.published, 1)
	assert.Equal(t, "cs_test_123", dispatcher.published[0].PaymentSessionID)
}

func TestCheckoutCompletedIsIdempotent(t *testing.T) {
	service := newFakeTicketService()
	dispatcher := &fakeDispatcher{}
	h := newTestHandler(service, dispatcher, "whsec_test")

	session := sessionWithMetadata(nil)
	h.handleCheckoutCompleted(context.Background(), session)
	h.handleCheckoutCompleted(context.Background(), session)

	assert.Len(t, service.created, 1, "redelivered session must not create a second ticket")
	assert.Len(t, dispatcher.published, 1, "redelivered session must not dispatch a second email")
}

func TestCheckoutCompletedMissingRequiredField(t *testing.T) {
	for _, field := range []string{"ride_id", "name", "surname", "departure_time", "origin_stop_id", "destination_stop_id"} {
		t.Run(field, func(t *testing.T) {
			service := newFakeTicketService()
			dispatcher := &fakeDispatcher{}
			h := newTestHandler(service, dispatcher, "whsec_test")

			h.handleCheckoutCompleted(context.Background(), sessionWithMetadata(map[string]string{field: ""}))

			assert.Empty(t, service.created)
			assert.Empty(t, dispatcher.published)
		})
	}
}

func TestCheckoutCompletedEmailFallsBackToCustomerDetails(t *testing.T) {
	service := newFakeTicketService()
	h := newTestHandler(service, &fakeDispatcher{}, "whsec_test")

	session := sessionWithMetadata(map[string]string{"email": ""})
	session.CustomerDetails = &stripe.CheckoutSessionCustomerDetails{Email: "fallback@example.com"}
	h.handleCheckoutCompleted(context.Background(), session)

	require.Len(t, service.created, 1)
	assert.Equal(t, "fallback@example.com", service.created[0].Email)
}

func TestCheckoutCompletedDispatchFailureIsSwallowed(t *testing.T) {
	service := newFakeTicketService()
	dispatcher := &fakeDispatcher{err: errors.New("broker down")}
	h := newTestHandler(service, dispatcher, "whsec_test")

	h.handleCheckoutCompleted(context.Background(), sessionWithMetadata(nil))

	assert.Len(t, service.created, 1, "ticket stands even when dispatch fails")
}

func TestDepartureDateFallback(t *testing.T) {
	h := newTestHandler(newFakeTicketService(), &fakeDispatcher{}, "whsec_test")

	assert.Equal(t, "2025-11-18", h.departureDate("", "cs_1"))
	assert.Equal(t, "2025-11-18", h.departureDate("null", "cs_2"))
	assert.Equal(t, "2025-11-18", h.departureDate("undefined", "cs_3"))
	assert.Equal(t, "2025-11-20", h.departureDate("2025-11-20T14:05:00Z", "cs_4"))
	assert.Equal(t, "2025-11-20", h.departureDate("2025-11-20", "cs_5"))
}

func TestParsePassengerCount(t *testing.T) {
	assert.Equal(t, 2, parsePassengerCount("2"))
	assert.Equal(t, 1, parsePassengerCount(""))
	assert.Equal(t, 1, parsePassengerCount("zero"))
	assert.Equal(t, 1, parsePassengerCount("0"))
	assert.Equal(t, 1, parsePassengerCount("-3"))
}

func stripeSignature(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func webhookRequest(t *testing.T, secret string, event map[string]interface{}) *http.Request {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeSignature(secret, payload, time.Now()))
	return req
}

func performWebhook(h *StripeHandler, req *http.Request) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	router := gin.New()
	router.POST("/webhook/stripe", h.HandleWebhook)
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleWebhookMissingSecret(t *testing.T) {
	h := newTestHandler(newFakeTicketService(), &fakeDispatcher{}, "")

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader([]byte("{}")))
	rec := performWebhook(h, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleWebhookBadSignature(t *testing.T) {
	h := newTestHandler(newFakeTicketService(), &fakeDispatcher{}, "whsec_test")

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader([]byte(`{"type":"checkout.session.completed"}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := performWebhook(h, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhookSignedCheckoutCompleted(t *testing.T) {
	service := newFakeTicketService()
	dispatcher := &fakeDispatcher{}
	h := newTestHandler(service, dispatcher, "whsec_test")

	session := sessionWithMetadata(nil)
	sessionJSON, err := json.Marshal(session)
	require.NoError(t, err)

	event := map[string]interface{}{
		"id":   "evt_test_1",
		"type": "checkout.session.completed",
		"data": map[string]interface{}{"object": json.RawMessage(sessionJSON)},
	}
	rec := performWebhook(h, webhookRequest(t, "whsec_test", event))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "received")
	assert.Len(t, service.created, 1)
	assert.Len(t, dispatcher.published, 1)
}

func TestHandleWebhookIgnoresUnrelatedEvents(t *testing.T) {
	service := newFakeTicketService()
	h := newTestHandler(service, &fakeDispatcher{}, "whsec_test")

	for _, eventType := range []string{"checkout.session.expired", "payment_intent.payment_failed", "invoice.paid"} {
		event := map[string]interface{}{
			"id":   "evt_test_2",
			"type": eventType,
			"data": map[string]interface{}{"object": map[string]interface{}{}},
		}
		rec := performWebhook(h, webhookRequest(t, "whsec_test", event))
		assert.Equal(t, http.StatusOK, rec.Code, eventType)
	}
	assert.Empty(t, service.created)
}
