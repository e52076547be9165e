package webhook

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// EventType is the closed set of event kinds the router understands.
type EventType string

const (
	EventNone                 EventType = ""
	EventMessages             EventType = "messages"
	EventStatuses             EventType = "statuses"
	EventTemplateStatusUpdate EventType = "message_template_status_update"
	EventHistory              EventType = "history"
	EventStateSync            EventType = "smb_app_state_sync"
	EventAccountUpdate        EventType = "account_update"
)

// Handlers are the services the processor dispatches to, one per event kind.
type Handlers struct {
	Messages      func(value *Value) error
	History       func(value *Value) error
	StateSync     func(value *Value) error
	AccountUpdate func(event string, value *Value) error
}

// Processor classifies a payload into exactly one event type and invokes the
// matching handler. Handler errors propagate untouched; the delivery layer
// turns them into a retry signal.
type Processor struct {
	handlers Handlers
}

// NewProcessor creates a Processor.
func NewProcessor(handlers Handlers) (*Processor, error) {
	if handlers.Messages == nil || handlers.History == nil || handlers.StateSync == nil || handlers.AccountUpdate == nil {
		return nil, fmt.Errorf("all event handlers must be set on the webhook processor")
	}
	return &Processor{handlers: handlers}, nil
}

// Classify reads entry[0].changes[0] and returns the event type plus its
// value. account_update payloads return the inner value.event as a separate
// token. A payload with no entry or change classifies as EventNone.
func Classify(payload *Payload) (EventType, string, *Value) {
	if payload == nil || len(payload.Entry) == 0 || len(payload.Entry[0].Changes) == 0 {
		return EventNone, "", nil
	}
	change := payload.Entry[0].Changes[0]

	switch EventType(change.Field) {
	case EventAccountUpdate:
		return EventAccountUpdate, change.Value.Event, &change.Value
	case EventMessages, EventStatuses, EventTemplateStatusUpdate, EventHistory, EventStateSync:
		return EventType(change.Field), "", &change.Value
	default:
		return EventType(change.Field), "", &change.Value
	}
}

// Process dispatches one payload. Unknown and not-yet-implemented event types
// are logged and dropped without error.
func (p *Processor) Process(payload *Payload) error {
	eventType, accountEvent, value := Classify(payload)

	switch eventType {
	case EventNone:
		log.Debug().Msg("Webhook payload has no event type, ignoring")
		return nil

	case EventMessages:
		return p.handlers.Messages(value)

	case EventHistory:
		return p.handlers.History(value)

	case EventStateSync:
		return p.handlers.StateSync(value)

	case EventAccountUpdate:
		if accountEvent == "" {
			log.Debug().Msg("Account update without inner event, ignoring")
			return nil
		}
		return p.handlers.AccountUpdate(accountEvent, value)

	case EventStatuses:
		// Delivery/read receipts are intentionally not consumed.
		log.Debug().Msg("Status update event received, dropping")
		return nil

	case EventTemplateStatusUpdate:
		// Template approval webhooks are intentionally not consumed.
		log.Debug().Msg("Template status update event received, dropping")
		return nil

	default:
		log.Warn().Str("eventType", string(eventType)).Msg("Unknown webhook event type, dropping")
		return nil
	}
}
