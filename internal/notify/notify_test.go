package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// mockBackend implements Backend for testing.
type mockBackend struct {
	name     string
	messages [][]byte
	closed   bool
}

func (m *mockBackend) Name() string { return m.name }
func (m *mockBackend) Publish(_ context.Context, payload []byte) error {
	m.messages = append(m.messages, payload)
	return nil
}
func (m *mockBackend) Close() error {
	m.closed = true
	return nil
}

func TestDispatchPublishesToBackends(t *testing.T) {
	d := NewDispatcher(nil, 1, 10, 5, 3)
	b := &mockBackend{name: "test"}
	d.AddBackend(b)

	d.Dispatch(UploadEvent{
		EventName: EventUploadCompleted,
		Bucket:    "test-bucket",
		ObjectKey: "alice/response_1.csv",
		User:      "alice",
		Size:      7,
	})

	if len(b.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(b.messages))
	}

	var event UploadEvent
	if err := json.Unmarshal(b.messages[0], &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.EventName != EventUploadCompleted {
		t.Errorf("event name: got %q", event.EventName)
	}
	if event.EventVersion == "" || event.EventSource == "" || event.EventTime == "" {
		t.Errorf("envelope fields not defaulted: %+v", event)
	}
	if event.ObjectKey != "alice/response_1.csv" {
		t.Errorf("object key: got %q", event.ObjectKey)
	}
}

func TestDispatchDeliversWebhook(t *testing.T) {
	var hits atomic.Int64
	var gotCT atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotCT.Store(r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]string{srv.URL}, 1, 10, 5, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Dispatch(UploadEvent{EventName: EventUploadCompleted, ObjectKey: "k"})

	deadline := time.Now().Add(2 * time.Second)
	for hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 webhook delivery, got %d", hits.Load())
	}
	if ct, _ := gotCT.Load().(string); ct != "application/json" {
		t.Errorf("content type: got %q", ct)
	}
}

func TestStopClosesBackends(t *testing.T) {
	d := NewDispatcher(nil, 2, 10, 5, 3)
	b := &mockBackend{name: "test"}
	d.AddBackend(b)

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()
	d.Stop()

	if !b.closed {
		t.Error("backend not closed on Stop")
	}
}

func TestStopDuringRetryDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	srv.Close() // every delivery fails and schedules a retry

	d := NewDispatcher([]string{srv.URL}, 1, 10, 5, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Dispatch(UploadEvent{EventName: EventUploadFailed, ObjectKey: "k"})
	// Let the worker pick up the job and enter its retry backoff.
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while a retry was pending")
	}
}

func TestDispatchFullQueueDrops(t *testing.T) {
	// No workers started, queue of 1: the second webhook job is dropped
	// without blocking.
	d := NewDispatcher([]string{"http://localhost:1/hook"}, 1, 1, 5, 3)

	done := make(chan struct{})
	go func() {
		d.Dispatch(UploadEvent{EventName: EventUploadFailed})
		d.Dispatch(UploadEvent{EventName: EventUploadFailed})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
}
