package email

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	gomail "gopkg.in/gomail.v2"

	"bus-ticketing/internal/config"
)

// SMTPSender delivers messages over SMTP. The Message-ID header is generated
// here and returned as the provider message id for the audit trail.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
		from:   cfg.From,
	}
}

func (s *SMTPSender) Send(msg Message) (string, error) {
	messageID := fmt.Sprintf("<%s@bus-ticketing>", uuid.New().String())

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/plain", msg.TextBody)
	m.AddAlternative("text/html", msg.HTMLBody)

	if len(msg.QRCode) > 0 {
		m.Attach("ticket-qr.png", gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(msg.QRCode)
			return err
		}))
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send failed: %w", err)
	}
	return messageID, nil
}
