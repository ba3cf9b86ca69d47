package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"bus-ticketing/internal/logger"
	"bus-ticketing/internal/models"
)

type Producer struct {
	Writer *kafka.Writer
	Logger *logger.Logger
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &Producer{Writer: writer, Logger: log}
}

// PublishTicketCreated streams the issued ticket to the email-dispatch topic.
// The ticket row is already committed when this runs.
func (p *Producer) PublishTicketCreated(ctx context.Context, ticket models.Ticket) error {
	msgBytes, err := json.Marshal(ticket)
	if err != nil {
		return err
	}

	p.Logger.LogKafka("PUBLISH", p.Writer.Stats().Topic, fmt.Sprintf("ticket_created %s", ticket.TicketNumber))

	return p.Writer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(ticket.TicketNumber),
			Value: msgBytes,
		},
	)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
