package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/cardsync-backend/pkg/db/models"
)

// Service is the idempotency ledger for inbound webhooks.
type Service interface {
	WithTx(tx *gorm.DB) Service
	RecordIfNew(ctx context.Context, input RecordInput) (bool, error)
	Exists(ctx context.Context, eventID string) (bool, error)
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// RecordInput captures the receipt of one delivered event.
type RecordInput struct {
	EventID    string
	Topic      string
	ShopDomain string
	Payload    []byte
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx), now: s.now}
}

// RecordIfNew reports whether this is the first delivery of the event.
func (s *service) RecordIfNew(ctx context.Context, input RecordInput) (bool, error) {
	eventID := strings.TrimSpace(input.EventID)
	if eventID == "" {
		return false, fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(input.Topic) == "" {
		return false, fmt.Errorf("topic is required")
	}

	return s.repo.Insert(ctx, &models.InboundEvent{
		EventID:    eventID,
		Topic:      input.Topic,
		ShopDomain: strings.ToLower(strings.TrimSpace(input.ShopDomain)),
		Payload:    storablePayload(input.Payload),
		ReceivedAt: s.now().UTC(),
	})
}

func (s *service) Exists(ctx context.Context, eventID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, fmt.Errorf("event id is required")
	}
	return s.repo.Exists(ctx, eventID)
}

// PurgeOlderThan removes receipts past the retention window. A non-positive
// retention keeps everything.
func (s *service) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return s.repo.DeleteReceivedBefore(ctx, s.now().UTC().Add(-retention))
}

// storablePayload keeps the raw body as jsonb; a body that is not JSON is
// stored as a JSON string so the receipt still records what arrived.
func storablePayload(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(raw) {
		return json.RawMessage(append([]byte(nil), raw...))
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}
