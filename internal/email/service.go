package email

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"bus-ticketing/internal/logger"
	"bus-ticketing/internal/models"
)

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Sender delivers a rendered message and returns the provider message id.
type Sender interface {
	Send(msg Message) (string, error)
}

// LogStore appends email attempt rows. One row per attempt, never mutated.
type LogStore interface {
	InsertEmailLog(ctx context.Context, entry models.EmailLog) error
}

// Result is always returned, never an error: a ticket's existence must not
// depend on email delivery.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Service struct {
	Sender      Sender
	Logs        LogStore
	Logger      *logger.Logger
	MaxAttempts int
	RetryDelay  time.Duration
	Clock       func() time.Time
}

func NewService(sender Sender, logs LogStore, log *logger.Logger, maxAttempts int, retryDelay time.Duration) *Service {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &Service{
		Sender:      sender,
		Logs:        logs,
		Logger:      log,
		MaxAttempts: maxAttempts,
		RetryDelay:  retryDelay,
		Clock:       time.Now,
	}
}

// Send performs a single delivery attempt and records it.
func (s *Service) Send(ctx context.Context, data TicketEmailData) Result {
	return s.attempt(ctx, data, 1, true)
}

// SendWithRetry attempts delivery up to MaxAttempts times with a fixed delay
// between attempts, stopping on the first success. Every attempt gets its own
// EmailLog row; non-final failures are logged as retrying.
func (s *Service) SendWithRetry(ctx context.Context, data TicketEmailData) Result {
	var last Result
	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		last = s.attempt(ctx, data, attempt, attempt == s.MaxAttempts)
		if last.Success {
			return last
		}
		if attempt < s.MaxAttempts {
			s.Logger.LogEmail("RETRY", data.Email, fmt.Sprintf("attempt %d/%d failed for %s: %s", attempt, s.MaxAttempts, data.TicketNumber, last.Error))
			select {
			case <-ctx.Done():
				return last
			case <-time.After(s.RetryDelay):
			}
		}
	}
	s.Logger.Error("EMAIL", fmt.Sprintf("Giving up on confirmation for %s after %d attempts: %s", data.TicketNumber, s.MaxAttempts, last.Error))
	return last
}

func (s *Service) attempt(ctx context.Context, data TicketEmailData, attempt int, final bool) Result {
	if !emailRe.MatchString(data.Email) {
		res := Result{Success: false, Error: fmt.Sprintf("invalid recipient address %q", data.Email)}
		s.record(ctx, data, attempt, models.EmailStatusFailed, "", res.Error)
		return res
	}

	msg, err := render(data)
	if err != nil {
		res := Result{Success: false, Error: err.Error()}
		s.record(ctx, data, attempt, models.EmailStatusFailed, "", res.Error)
		return res
	}

	if png, err := qrcode.Encode(data.TicketNumber, qrcode.Medium, 256); err == nil {
		msg.QRCode = png
	} else {
		// Message still goes out without the attachment.
		s.Logger.Warn("EMAIL", fmt.Sprintf("Failed to generate QR for %s: %v", data.TicketNumber, err))
	}

	messageID, err := s.Sender.Send(msg)
	if err != nil {
		status := models.EmailStatusRetrying
		if final {
			status = models.EmailStatusFailed
		}
		s.record(ctx, data, attempt, status, "", err.Error())
		return Result{Success: false, Error: err.Error()}
	}

	s.record(ctx, data, attempt, models.EmailStatusSent, messageID, "")
	s.Logger.LogEmail("SENT", data.Email, fmt.Sprintf("confirmation for %s (message %s)", data.TicketNumber, messageID))
	return Result{Success: true, MessageID: messageID}
}

func (s *Service) record(ctx context.Context, data TicketEmailData, attempt int, status, messageID, errMsg string) {
	entry := models.EmailLog{
		ID:           uuid.New().String(),
		TicketNumber: data.TicketNumber,
		Recipient:    data.Email,
		Status:       status,
		MessageID:    messageID,
		Error:        errMsg,
		Attempt:      attempt,
		CreatedAt:    s.Clock(),
	}
	if err := s.Logs.InsertEmailLog(ctx, entry); err != nil {
		// The audit row is best effort, delivery outcome stands on its own.
		s.Logger.Error("EMAIL", fmt.Sprintf("Failed to record email log for %s: %v", data.TicketNumber, err))
	}
}
