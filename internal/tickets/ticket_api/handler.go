package ticket_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"bus-ticketing/internal/auth"
	"bus-ticketing/internal/logger"
	"bus-ticketing/internal/tickets"
)

type Handler struct {
	TicketService *tickets.TicketService
	Logger        *logger.Logger
}

func NewHandler(ticketService *tickets.TicketService, log *logger.Logger) *Handler {
	return &Handler{TicketService: ticketService, Logger: log}
}

// CreateTicket issues a ticket directly, outside the payment webhook flow
// (support tooling, counter sales).
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var data tickets.CreateTicketData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	ticket, err := h.TicketService.Create(r.Context(), data)
	if err != nil {
		h.writeServiceError(w, "Failed to create ticket", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ticket)
}

func (h *Handler) GetTicketByNumber(w http.ResponseWriter, r *http.Request) {
	ticketNumber := chi.URLParam(r, "ticketNumber")
	ticket, err := h.TicketService.FindByNumber(r.Context(), ticketNumber)
	if err != nil {
		h.writeServiceError(w, "Ticket not found", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ticket)
}

func (h *Handler) GetTicketsByEmail(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		http.Error(w, "Invalid email parameter", http.StatusBadRequest)
		return
	}

	list, err := h.TicketService.FindByEmail(r.Context(), email)
	if err != nil {
		h.writeServiceError(w, "Failed to fetch tickets", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *Handler) GetTicketBySession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ticket, err := h.TicketService.FindBySessionID(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "Ticket not found", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ticket)
}

func (h *Handler) ListTicketsByRide(w http.ResponseWriter, r *http.Request) {
	rideID := chi.URLParam(r, "rideID")
	date := r.URL.Query().Get("date")

	list, err := h.TicketService.ListByRideAndDate(r.Context(), rideID, date)
	if err != nil {
		h.writeServiceError(w, "Failed to fetch tickets", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// SetValidated is the driver endpoint: flips the boarded flag for a ticket.
// Mounted behind auth.DriverOnly.
func (h *Handler) SetValidated(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")

	var body struct {
		Validated *bool `json:"validated"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.Validated == nil {
		http.Error(w, "validated is required", http.StatusBadRequest)
		return
	}

	ticket, err := h.TicketService.SetValidated(r.Context(), ticketID, *body.Validated)
	if err != nil {
		h.writeServiceError(w, "Failed to update ticket", err)
		return
	}
	h.Logger.LogTicket("VALIDATE", ticket.TicketNumber, fmt.Sprintf("by driver %s", auth.DriverID(r.Context())))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ticket)
}

func (h *Handler) GetEmailLogs(w http.ResponseWriter, r *http.Request) {
	ticketNumber := chi.URLParam(r, "ticketNumber")
	logs, err := h.TicketService.EmailLogs(r.Context(), ticketNumber)
	if err != nil {
		h.writeServiceError(w, "Failed to fetch email logs", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, prefix string, err error) {
	switch {
	case errors.Is(err, tickets.ErrTicketNotFound):
		http.Error(w, prefix+": "+err.Error(), http.StatusNotFound)
	case errors.Is(err, tickets.ErrDuplicateTicketNumber):
		http.Error(w, prefix+": "+err.Error(), http.StatusConflict)
	case tickets.IsClientError(err):
		http.Error(w, prefix+": "+err.Error(), http.StatusBadRequest)
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", prefix, err))
		http.Error(w, prefix, http.StatusInternalServerError)
	}
}
