package realtime

import (
	"encoding/json"
	"strings"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Notification is one pending real-time event, queued during a transaction and
// dispatched only after the transaction commits.
type Notification struct {
	Channel string
	Payload interface{}
}

// Publisher delivers notifications to a channel-addressed fan-out. Failures
// are logged and never surfaced to the caller.
type Publisher interface {
	Publish(channel string, payload interface{}) error
}

// AMQPPublisher publishes notifications to RabbitMQ, one queue per channel,
// named <prefix>_<channel>. When no broker URL is configured publishing is
// disabled and every call is a silent no-op.
type AMQPPublisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	prefix  string
	enabled bool
}

// NewAMQPPublisher connects to RabbitMQ. An empty URL disables publishing
// without error, matching the fire-and-forget contract.
func NewAMQPPublisher(url, prefix string) *AMQPPublisher {
	p := &AMQPPublisher{prefix: prefix}
	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set. Real-time publishing disabled.")
		return p
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to RabbitMQ, real-time publishing disabled")
		return p
	}
	channel, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Could not open RabbitMQ channel, real-time publishing disabled")
		return p
	}

	p.conn = conn
	p.channel = channel
	p.enabled = true
	log.Info().Str("prefix", prefix).Msg("RabbitMQ connection established.")
	return p
}

// Publish sends one payload to the queue derived from the channel name.
func (p *AMQPPublisher) Publish(channel string, payload interface{}) error {
	if !p.enabled {
		return nil
	}

	queueName := p.queueName(channel)
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("Failed to marshal real-time payload")
		return err
	}

	// Declare queue (idempotent)
	if _, err := p.channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("Could not declare RabbitMQ queue")
		return err
	}

	err = p.channel.Publish(
		"",        // exchange (default)
		queueName, // routing key = queue
		false,     // mandatory
		false,     // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        data,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("Could not publish to RabbitMQ")
		return err
	}
	log.Debug().Str("queue", queueName).Msg("Published message to RabbitMQ")
	return nil
}

func (p *AMQPPublisher) queueName(channel string) string {
	return p.prefix + "_" + strings.ToLower(channel)
}

// Close tears down the broker connection.
func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// Dispatch sends each queued notification on its own goroutine. It is called
// after the owning transaction has committed; a failed publish is logged by
// the publisher and never affects the webhook response.
func Dispatch(p Publisher, notifications []Notification) {
	for _, n := range notifications {
		go func(n Notification) {
			if err := p.Publish(n.Channel, n.Payload); err != nil {
				log.Error().Err(err).Str("channel", n.Channel).Msg("Real-time notification delivery failed")
			}
		}(n)
	}
}
