package tickets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned for unknown, expired and already-redeemed tickets
// alike; a caller cannot distinguish the three cases.
var ErrNotFound = errors.New("ticket not found")

// Payload carries the connection parameters a redeemed ticket unlocks.
type Payload struct {
	UserID        string `json:"user_id"`
	ServiceID     string `json:"service_id"`
	InstanceID    string `json:"instance_id"`
	TransportID   string `json:"transport_id"`
	Address       string `json:"address"`
	CredentialRef string `json:"credential_ref,omitempty"`
}

// Broker issues one-time addressable tickets and redeems each exactly once.
type Broker interface {
	Issue(ctx context.Context, payload Payload, ttl time.Duration) (string, error)
	Redeem(ctx context.Context, ticketID string) (Payload, error)
}

const keyPrefix = "vdib:ticket:"

// RedisBroker stores tickets in redis; GETDEL makes redemption a single
// atomic winner among concurrent redeemers, and key expiry handles TTL.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client, prefix: keyPrefix}
}

func (b *RedisBroker) Issue(ctx context.Context, payload Payload, ttl time.Duration) (string, error) {
	ticketID := uuid.NewString()
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal ticket payload: %w", err)
	}
	if err := b.client.Set(ctx, b.prefix+ticketID, raw, ttl).Err(); err != nil {
		return "", fmt.Errorf("store ticket: %w", err)
	}
	return ticketID, nil
}

func (b *RedisBroker) Redeem(ctx context.Context, ticketID string) (Payload, error) {
	raw, err := b.client.GetDel(ctx, b.prefix+ticketID).Result()
	if errors.Is(err, redis.Nil) {
		return Payload{}, ErrNotFound
	}
	if err != nil {
		return Payload{}, fmt.Errorf("redeem ticket: %w", err)
	}
	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Payload{}, fmt.Errorf("decode ticket payload: %w", err)
	}
	return payload, nil
}

type memoryTicket struct {
	payload   Payload
	expiresAt time.Time
}

// MemoryBroker is a process-local broker for tests.
type MemoryBroker struct {
	mu      sync.Mutex
	tickets map[string]memoryTicket
	now     func() time.Time
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{tickets: make(map[string]memoryTicket), now: time.Now}
}

func (b *MemoryBroker) Issue(_ context.Context, payload Payload, ttl time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ticketID := uuid.NewString()
	b.tickets[ticketID] = memoryTicket{payload: payload, expiresAt: b.now().Add(ttl)}
	return ticketID, nil
}

func (b *MemoryBroker) Redeem(_ context.Context, ticketID string) (Payload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ticket, ok := b.tickets[ticketID]
	if !ok {
		return Payload{}, ErrNotFound
	}
	delete(b.tickets, ticketID)
	if b.now().After(ticket.expiresAt) {
		return Payload{}, ErrNotFound
	}
	return ticket.payload, nil
}
