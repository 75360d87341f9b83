package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wmsdispatch/internal/model"
	"wmsdispatch/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), MaxAttempts: 3}
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "t1", "", model.EventAssignmentCreated, srv.URL, "secret", []byte(`{"id":"evt1"}`))
	if err != nil || id == "" {
		t.Fatalf("enqueue failed: %v", err)
	}

	w.processOnce(context.Background())

	if gotSig == "" || gotType != model.EventAssignmentCreated {
		t.Fatalf("missing signature/type headers: sig=%q type=%q", gotSig, gotType)
	}
	if !VerifyHMAC("secret", gotBody, gotSig) {
		t.Fatalf("signature does not verify")
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnce_Retry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(503) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), MaxAttempts: 3}
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), "t1", "", model.EventPlanCompleted, srv.URL, "", []byte(`{}`))
	w.processOnce(context.Background())
	require.Len(t, rs.marks, 1)
	require.False(t, rs.marks[0].Success)
	require.Equal(t, 503, rs.marks[0].Code)
	require.Empty(t, rs.fails)

	// backoff moves the delivery out of the due window
	due, err := rs.FetchDueWebhookDeliveries(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestWorkerProcessOnce_Fail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), MaxAttempts: 1}
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), "t1", "", model.EventAssignmentCreated, srv.URL, "", []byte(`{}`))
	w.processOnce(context.Background())
	if len(rs.fails) == 0 {
		t.Fatalf("expected fail recorded")
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	w := NewWorker(store.NewMemory(), 0)
	require.Equal(t, defaultMaxAttempts, w.MaxAttempts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestNextBackoff(t *testing.T) {
	require.Equal(t, time.Second, nextBackoff(-1))
	require.Equal(t, 8*time.Second, nextBackoff(3))
	require.Equal(t, 1024*time.Second, nextBackoff(50))
}

func TestPublisherEmit(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://a", Events: []string{model.EventAssignmentCreated}})
	require.NoError(t, err)
	_, err = m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://b", Events: []string{model.EventPlanCompleted}})
	require.NoError(t, err)

	n, err := NewPublisher(m).Emit(ctx, "t1", model.EventAssignmentCreated, model.AssignmentEvent{PlanID: "p", TaskID: 1, WorkerID: 2})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "http://a", due[0].URL)
	require.Contains(t, string(due[0].Payload), `"taskId":1`)

	n, err = NewPublisher(m).Emit(ctx, "t2", model.EventAssignmentCreated, nil)
	require.NoError(t, err)
	require.Zero(t, n)
}
