package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType identifies the semantic event kind.
type EventType string

const (
	EventUserLoggedIn     EventType = "user.logged_in"
	EventInstanceAssigned EventType = "instance.assigned"
	EventInstanceReady    EventType = "instance.ready"
	EventInstanceReleased EventType = "instance.released"
	EventTicketIssued     EventType = "ticket.issued"
	EventConnectionSource EventType = "connection.source"
)

var validEventTypes = map[EventType]struct{}{
	EventUserLoggedIn:     {},
	EventInstanceAssigned: {},
	EventInstanceReady:    {},
	EventInstanceReleased: {},
	EventTicketIssued:     {},
	EventConnectionSource: {},
}

// Envelope is the JSON-serializable event envelope shared across services.
type Envelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	TS            time.Time       `json:"ts"`
	CorrelationID string          `json:"correlation_id"`
	UserID        *string         `json:"user_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

var ErrInvalidEventType = errors.New("invalid event type")

// ValidateEventType verifies whether the provided event type is known.
func ValidateEventType(eventType EventType) error {
	if _, ok := validEventTypes[eventType]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidEventType, eventType)
	}
	return nil
}

// MarshalV1 marshals an envelope with a v1 payload struct.
func MarshalV1[T any](id string, eventType EventType, ts time.Time, correlationID string, userID *string, payload T) ([]byte, error) {
	if err := ValidateEventType(eventType); err != nil {
		return nil, err
	}

	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	env := Envelope{
		ID:            id,
		Type:          eventType,
		TS:            ts,
		CorrelationID: correlationID,
		UserID:        userID,
		Payload:       payloadRaw,
	}

	return json.Marshal(env)
}

// UnmarshalEnvelope unmarshals and validates an event envelope.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if err := ValidateEventType(env.Type); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// V1 payload schemas.
type UserLoggedInV1 struct {
	AuthMethod string `json:"auth_method,omitempty"`
}

type InstanceAssignedV1 struct {
	InstanceID string `json:"instance_id"`
	ServiceID  string `json:"service_id"`
	Address    string `json:"address,omitempty"`
}

type InstanceReadyV1 struct {
	InstanceID string `json:"instance_id"`
	ServiceID  string `json:"service_id"`
	Address    string `json:"address"`
}

type InstanceReleasedV1 struct {
	InstanceID string `json:"instance_id"`
	ServiceID  string `json:"service_id"`
	Reason     string `json:"reason,omitempty"`
}

type TicketIssuedV1 struct {
	TicketID    string `json:"ticket_id"`
	InstanceID  string `json:"instance_id"`
	TransportID string `json:"transport_id"`
}

type ConnectionSourceV1 struct {
	InstanceID string `json:"instance_id"`
	SourceIP   string `json:"source_ip"`
	Hostname   string `json:"hostname,omitempty"`
}

// DecodeV1Payload decodes the payload into a v1 schema by event type.
func DecodeV1Payload(env Envelope) (any, error) {
	switch env.Type {
	case EventUserLoggedIn:
		var payload UserLoggedInV1
		return payload, json.Unmarshal(env.Payload, &payload)
	case EventInstanceAssigned:
		var payload InstanceAssignedV1
		return payload, json.Unmarshal(env.Payload, &payload)
	case EventInstanceReady:
		var payload InstanceReadyV1
		return payload, json.Unmarshal(env.Payload, &payload)
	case EventInstanceReleased:
		var payload InstanceReleasedV1
		return payload, json.Unmarshal(env.Payload, &payload)
	case EventTicketIssued:
		var payload TicketIssuedV1
		return payload, json.Unmarshal(env.Payload, &payload)
	case EventConnectionSource:
		var payload ConnectionSourceV1
		return payload, json.Unmarshal(env.Payload, &payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEventType, env.Type)
	}
}

// NATS subject mapping.
const (
	SubjectUserLoggedIn     = "vdib.user.logged_in"
	SubjectInstanceAssigned = "vdib.instance.assigned"
	SubjectInstanceReady    = "vdib.instance.ready"
	SubjectInstanceReleased = "vdib.instance.released"
	SubjectTicketIssued     = "vdib.ticket.issued"
	SubjectConnectionSource = "vdib.connection.source"
)

// SubjectForType maps a contract event type to its NATS subject.
func SubjectForType(eventType EventType) (string, error) {
	switch eventType {
	case EventUserLoggedIn:
		return SubjectUserLoggedIn, nil
	case EventInstanceAssigned:
		return SubjectInstanceAssigned, nil
	case EventInstanceReady:
		return SubjectInstanceReady, nil
	case EventInstanceReleased:
		return SubjectInstanceReleased, nil
	case EventTicketIssued:
		return SubjectTicketIssued, nil
	case EventConnectionSource:
		return SubjectConnectionSource, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidEventType, eventType)
	}
}
