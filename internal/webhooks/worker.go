// Package webhooks delivers planning events to subscriber endpoints with
// signed payloads and retry with backoff.
package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"wmsdispatch/internal/metrics"
	"wmsdispatch/internal/store"
)

const (
	defaultMaxAttempts = 10
	batchSize          = 50
	pollInterval       = 1 * time.Second
)

type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	MaxAttempts int
}

func NewWorker(s store.Store, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, MaxAttempts: maxAttempts}
}

// Run polls the delivery queue until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Int("max_attempts", w.MaxAttempts).Msg("webhook worker started")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("webhook worker stopped")
			return nil
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

func (w *Worker) processOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, batchSize)
	if err != nil {
		log.Error().Err(err).Msg("fetch due webhook deliveries")
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	success := false
	next := time.Now().Add(nextBackoff(it.Attempts))
	code := 0
	lastErr := ""
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err == nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Type", it.EventType)
		if it.Secret != "" {
			req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
		}
		var resp *http.Response
		resp, err = w.HTTP.Do(req)
		if err == nil {
			code = resp.StatusCode
			_ = resp.Body.Close()
			success = code >= 200 && code < 300
		}
	}
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		lastErr = err.Error()
	} else if !success {
		lastErr = http.StatusText(code)
	}

	status := store.DeliveryDelivered
	switch {
	case success:
		err = w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency)
	case it.Attempts+1 >= w.MaxAttempts:
		status = store.DeliveryFailed
		err = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
		log.Warn().Str("delivery", it.ID).Str("url", it.URL).Int("attempts", it.Attempts+1).Str("error", lastErr).Msg("webhook delivery dead-lettered")
	default:
		status = store.DeliveryRetry
		err = w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, lastErr, code, latency)
	}
	if err != nil {
		log.Error().Err(err).Str("delivery", it.ID).Msg("update webhook delivery")
	}
	metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
