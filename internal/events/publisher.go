package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"libradesk/internal/domain"
)

const (
	exchangeName = "libradesk.events"
	exchangeType = "topic"

	// Event types
	EventTypeLoanIssued   = "loan.issued"
	EventTypeLoanReturned = "loan.returned"
	EventTypeLoanOverdue  = "loan.overdue"

	eventVersion   = "1.0.0"
	confirmTimeout = 5 * time.Second
)

// ErrNotAcknowledged is returned when the broker nacks or never confirms a publish.
var ErrNotAcknowledged = errors.New("event not acknowledged")

type correlationKey struct{}

// WithCorrelationID tags ctx so published events carry id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// Event is the envelope written to the exchange.
type Event struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	EventVersion  string                 `json:"event_version"`
	Timestamp     string                 `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
}

// NewEvent builds an envelope for eventType stamped with at.
func NewEvent(ctx context.Context, eventType string, payload map[string]interface{}, at time.Time) Event {
	event := Event{
		EventID:      uuid.New().String(),
		EventType:    eventType,
		EventVersion: eventVersion,
		Timestamp:    at.UTC().Format(time.RFC3339),
		Payload:      payload,
	}
	if corrID, ok := ctx.Value(correlationKey{}).(string); ok {
		event.CorrelationID = corrID
	}
	return event
}

// Publisher sends domain events.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]interface{}) error
	Close() error
}

// AMQPPublisher publishes to a RabbitMQ topic exchange with confirms. A
// circuit breaker stops calls to a broker that keeps failing.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	breaker *gobreaker.CircuitBreaker
	clock   domain.Clock
	log     *zap.Logger
	mu      sync.Mutex
}

// NewAMQPPublisher dials url and declares the exchange. Events are stamped
// with clock.
func NewAMQPPublisher(url string, clock domain.Clock, log *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchangeName,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	log.Info("Connected to RabbitMQ", zap.String("exchange", exchangeName))

	p := &AMQPPublisher{conn: conn, channel: channel, clock: clock, log: log}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rabbitmq-publish",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Publisher circuit changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return p, nil
}

// Publish sends one event and waits for the broker confirm.
func (p *AMQPPublisher) Publish(ctx context.Context, eventType string, payload map[string]interface{}) error {
	at := p.clock.Now()
	event := NewEvent(ctx, eventType, payload, at)
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.publish(ctx, eventType, event, body, at)
	})
	if err != nil {
		p.log.Error("Failed to publish event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	p.log.Debug("Event published",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
	)
	return nil
}

func (p *AMQPPublisher) publish(ctx context.Context, routingKey string, event Event, body []byte, at time.Time) error {
	// confirms arrive in publish order, so one publish in flight at a time
	p.mu.Lock()
	defer p.mu.Unlock()

	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		exchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    at,
			MessageId:    event.EventID,
			Body:         body,
			Headers: amqp.Table{
				"event_type":    event.EventType,
				"event_version": event.EventVersion,
			},
		},
	)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	acked, err := confirmation.WaitContext(waitCtx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNotAcknowledged
	}
	return nil
}

// IsHealthy checks if the publisher connection is open.
func (p *AMQPPublisher) IsHealthy() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Error("Failed to close channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.log.Error("Failed to close connection", zap.Error(err))
			return err
		}
	}
	p.log.Info("Publisher closed")
	return nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, map[string]interface{}) error { return nil }
func (NopPublisher) Close() error                                                    { return nil }

// MemoryPublisher keeps published events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	// Err, when set, is returned by Publish instead of recording.
	Err error
	// Clock stamps events; SystemClock when nil.
	Clock domain.Clock
}

func (m *MemoryPublisher) Publish(ctx context.Context, eventType string, payload map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	clock := m.Clock
	if clock == nil {
		clock = domain.SystemClock
	}
	m.events = append(m.events, NewEvent(ctx, eventType, payload, clock.Now()))
	return nil
}

func (m *MemoryPublisher) Close() error { return nil }

// Events returns the recorded events, optionally only those of eventType.
func (m *MemoryPublisher) Events(eventType string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if eventType == "" || e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
