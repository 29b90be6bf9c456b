package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sony/gobreaker/v2"

	"github.com/libdx/flask-microservices/internal/domain"
	pkgkafka "github.com/libdx/flask-microservices/pkg/kafka"
	"github.com/libdx/flask-microservices/pkg/logger"
)

// Event types and topics for user lifecycle events.
const (
	TypeUserRegistered = "user.registered"
	TypeUserUpdated    = "user.updated"
	TypeUserDeleted    = "user.deleted"

	AggregateTypeUser = "user"
	Source            = "users"
)

var (
	TopicUserRegistered = pkgkafka.Topic(AggregateTypeUser, "registered")
	TopicUserUpdated    = pkgkafka.Topic(AggregateTypeUser, "updated")
	TopicUserDeleted    = pkgkafka.Topic(AggregateTypeUser, "deleted")
)

// UserData is the payload of user.registered and user.updated.
type UserData struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// UserDeletedData is the payload of user.deleted.
type UserDeletedData struct {
	ID int64 `json:"id"`
}

// Publisher emits user lifecycle events.
type Publisher interface {
	UserRegistered(ctx context.Context, user *domain.User) error
	UserUpdated(ctx context.Context, user *domain.User) error
	UserDeleted(ctx context.Context, id int64) error
}

// Sink delivers an envelope to a topic. *pkgkafka.Producer implements it.
type Sink interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes user events to a Sink behind a circuit breaker.
type Producer struct {
	sink    Sink
	breaker *gobreaker.CircuitBreaker[struct{}]
	metrics *BreakerMetrics
	name    string
	logger  *slog.Logger
}

// NewProducer creates an event producer. metrics may be nil.
func NewProducer(sink Sink, cfg BreakerConfig, metrics *BreakerMetrics, logger *slog.Logger) *Producer {
	return &Producer{
		sink:    sink,
		breaker: newBreaker(cfg, metrics, logger),
		metrics: metrics,
		name:    cfg.Name,
		logger:  logger,
	}
}

// UserRegistered publishes a user.registered event.
func (p *Producer) UserRegistered(ctx context.Context, u *domain.User) error {
	return p.publish(ctx, TopicUserRegistered, TypeUserRegistered, u.ID, UserData{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
	})
}

// UserUpdated publishes a user.updated event.
func (p *Producer) UserUpdated(ctx context.Context, u *domain.User) error {
	return p.publish(ctx, TopicUserUpdated, TypeUserUpdated, u.ID, UserData{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
	})
}

// UserDeleted publishes a user.deleted event.
func (p *Producer) UserDeleted(ctx context.Context, id int64) error {
	return p.publish(ctx, TopicUserDeleted, TypeUserDeleted, id, UserDeletedData{ID: id})
}

func (p *Producer) publish(ctx context.Context, topic, eventType string, userID int64, data any) error {
	evt, err := pkgkafka.NewEvent(eventType, strconv.FormatInt(userID, 10), AggregateTypeUser, Source, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.sink.Publish(ctx, topic, evt)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			if p.metrics != nil {
				p.metrics.rejected.WithLabelValues(p.name).Inc()
			}
		}
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("event_type", eventType),
		slog.Int64("user_id", userID),
	)
	return nil
}

// State reports the breaker state.
func (p *Producer) State() gobreaker.State {
	return p.breaker.State()
}

// NoopPublisher drops every event. It is used when Kafka is not configured.
type NoopPublisher struct{}

func (NoopPublisher) UserRegistered(context.Context, *domain.User) error { return nil }
func (NoopPublisher) UserUpdated(context.Context, *domain.User) error    { return nil }
func (NoopPublisher) UserDeleted(context.Context, int64) error           { return nil }
