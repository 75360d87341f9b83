package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"wmsdispatch/internal/store"
)

// Publisher fans an event out to the delivery queue of every matching subscription.
type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues one delivery per subscription for the tenant and event type
// and returns how many were queued.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) (int, error) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil {
		return 0, fmt.Errorf("load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	body, err := json.Marshal(map[string]any{
		"id":       "evt_" + uuid.NewString(),
		"type":     eventType,
		"tenantId": tenantID,
		"ts":       now.Format(time.RFC3339),
		"data":     data,
	})
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	queued := 0
	for _, s := range subs {
		id, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body)
		if err != nil {
			log.Warn().Err(err).Str("tenant", tenantID).Str("subscription", s.ID).Msg("enqueue webhook")
			continue
		}
		if id != "" {
			queued++
		}
	}
	return queued, nil
}
