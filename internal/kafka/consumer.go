package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"bus-ticketing/internal/logger"
	"bus-ticketing/internal/models"
)

type Consumer struct {
	reader *kafka.Reader
	Logger *logger.Logger
}

func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, Logger: log}
}

// Start consumes ticket-created events until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, ticket models.Ticket)) {
	c.Logger.LogKafka("START", c.reader.Config().Topic, "consumer running")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			continue
		}

		var ticket models.Ticket
		if err := json.Unmarshal(msg.Value, &ticket); err != nil {
			c.Logger.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal ticket event: %v", err))
			continue
		}

		c.Logger.LogKafka("RECEIVE", c.reader.Config().Topic, fmt.Sprintf("ticket_created %s", ticket.TicketNumber))
		handler(ctx, ticket)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
