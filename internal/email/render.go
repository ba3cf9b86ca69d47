package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

// TicketEmailData is everything the confirmation message shows.
type TicketEmailData struct {
	TicketNumber    string
	Name            string
	Surname         string
	Email           string
	PassengerCount  int
	OriginName      string
	DestinationName string
	DepartureDate   string // YYYY-MM-DD
	DepartureTime   string // HH:MM
	AmountPaid      int64  // cents
	PurchasedAt     time.Time
}

// Message is a rendered confirmation ready for transport. HTML and text
// bodies carry identical informational content.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	QRCode   []byte // PNG attached to the rich rendering
}

const textBody = `Your bus ticket is confirmed!

Ticket number: {{.TicketNumber}}
Passenger: {{.FullName}} ({{.Email}})
Passengers: {{.PassengerCount}}
From: {{.OriginName}}
To: {{.DestinationName}}
Departure: {{.DepartureDate}} at {{.DepartureTime}}
Amount paid: {{.Amount}}
Purchased: {{.PurchasedAt}}

Show the ticket number (or the attached QR code) to the driver when boarding.
`

const htmlBody = `<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>Your bus ticket is confirmed!</h2>
  <p><strong>Ticket number:</strong> {{.TicketNumber}}</p>
  <table cellpadding="4">
    <tr><td>Passenger</td><td>{{.FullName}} ({{.Email}})</td></tr>
    <tr><td>Passengers</td><td>{{.PassengerCount}}</td></tr>
    <tr><td>From</td><td>{{.OriginName}}</td></tr>
    <tr><td>To</td><td>{{.DestinationName}}</td></tr>
    <tr><td>Departure</td><td>{{.DepartureDate}} at {{.DepartureTime}}</td></tr>
    <tr><td>Amount paid</td><td>{{.Amount}}</td></tr>
    <tr><td>Purchased</td><td>{{.PurchasedAt}}</td></tr>
  </table>
  <p>Show the ticket number (or the attached QR code) to the driver when boarding.</p>
</body>
</html>
`

var (
	textTmpl = texttemplate.Must(texttemplate.New("ticket_text").Parse(textBody))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("ticket_html").Parse(htmlBody))
)

type renderFields struct {
	TicketNumber    string
	FullName        string
	Email           string
	PassengerCount  int
	OriginName      string
	DestinationName string
	DepartureDate   string
	DepartureTime   string
	Amount          string
	PurchasedAt     string
}

// formatDisplayDate turns YYYY-MM-DD into DD/MM/YYYY without going through
// a time.Time: the travel date is a wall-clock date, not an instant.
func formatDisplayDate(date string) string {
	parts := strings.Split(date, "-")
	if len(parts) != 3 {
		return date
	}
	return fmt.Sprintf("%s/%s/%s", parts[2], parts[1], parts[0])
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("€%d.%02d", cents/100, cents%100)
}

func render(data TicketEmailData) (Message, error) {
	fields := renderFields{
		TicketNumber:    data.TicketNumber,
		FullName:        strings.TrimSpace(data.Name + " " + data.Surname),
		Email:           data.Email,
		PassengerCount:  data.PassengerCount,
		OriginName:      data.OriginName,
		DestinationName: data.DestinationName,
		DepartureDate:   formatDisplayDate(data.DepartureDate),
		DepartureTime:   data.DepartureTime,
		Amount:          formatAmount(data.AmountPaid),
		PurchasedAt:     data.PurchasedAt.Format("02/01/2006 15:04"),
	}

	var text bytes.Buffer
	if err := textTmpl.Execute(&text, fields); err != nil {
		return Message{}, fmt.Errorf("failed to render text body: %w", err)
	}

	var html bytes.Buffer
	if err := htmlTmpl.Execute(&html, fields); err != nil {
		return Message{}, fmt.Errorf("failed to render html body: %w", err)
	}

	return Message{
		To:       data.Email,
		Subject:  fmt.Sprintf("Your bus ticket %s", data.TicketNumber),
		HTMLBody: html.String(),
		TextBody: text.String(),
	}, nil
}
