// File: internal/infra/bus/amqp.go
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"ostrid-adapter/internal/config"
	"ostrid-adapter/internal/domain/model"
)

// AMQPPublisher is the push-notification channel: lifecycle events are
// published to a topic exchange with routing key "job.<event type>" so
// interested agents can subscribe per event class.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zerolog.Logger
}

var _ Sink = (*AMQPPublisher)(nil)

func NewAMQPPublisher(cfg config.AMQPConfig, logger *zerolog.Logger) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url empty")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	l := logger.With().Str("component", "AMQPPublisher").Logger()
	return &AMQPPublisher{conn: conn, ch: ch, exchange: cfg.Exchange, log: &l}, nil
}

func (p *AMQPPublisher) Deliver(e *model.JobEvent) {
	body, err := json.Marshal(e)
	if err != nil {
		p.log.Error().Err(err).Str("event_id", e.ID).Msg("event marshal failed")
		return
	}
	err = p.ch.PublishWithContext(context.Background(), p.exchange, "job."+string(e.Type), false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   e.ID,
		Body:        body,
	})
	if err != nil {
		// Push delivery is best effort; the persisted stream is the source of truth.
		p.log.Warn().Err(err).Str("event_id", e.ID).Msg("amqp publish failed")
	}
}

func (p *AMQPPublisher) Finished(contextID string) {
	err := p.ch.PublishWithContext(context.Background(), p.exchange, "job.stream_finished", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        []byte(fmt.Sprintf(`{"contextId":%q}`, contextID)),
	})
	if err != nil {
		p.log.Warn().Err(err).Str("context_id", contextID).Msg("amqp finished publish failed")
	}
}

func (p *AMQPPublisher) Close() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
