// Package notify fans out upload events to webhooks and message brokers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// UploadEvent is the JSON document published after each upload attempt.
type UploadEvent struct {
	EventVersion string `json:"eventVersion"`
	EventSource  string `json:"eventSource"`
	EventTime    string `json:"eventTime"`
	EventName    string `json:"eventName"` // "upload:Completed" or "upload:Failed"
	Bucket       string `json:"bucket"`
	ObjectKey    string `json:"objectKey"`
	User         string `json:"user"`
	Session      string `json:"session,omitempty"`
	Size         int64  `json:"size"`
	Status       int    `json:"status,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Event names.
const (
	EventUploadCompleted = "upload:Completed"
	EventUploadFailed    = "upload:Failed"
)

// Backend is the interface for notification delivery backends.
type Backend interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

type deliveryJob struct {
	endpoint   string
	payload    []byte
	retryCount int
	maxRetries int
}

// Dispatcher handles async webhook delivery with retry and fans events out
// to registered broker backends.
type Dispatcher struct {
	client     *http.Client
	endpoints  []string
	workerCh   chan deliveryJob
	done       chan struct{}
	wg         sync.WaitGroup
	maxWorkers int
	maxRetries int
	backoff    []time.Duration
	backends   []Backend
	mu         sync.Mutex
}

func NewDispatcher(endpoints []string, maxWorkers, queueSize, timeoutSecs, maxRetries int) *Dispatcher {
	return &Dispatcher{
		client:     &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second},
		endpoints:  endpoints,
		workerCh:   make(chan deliveryJob, queueSize),
		done:       make(chan struct{}),
		maxWorkers: maxWorkers,
		maxRetries: maxRetries,
		backoff:    []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.maxWorkers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-d.done:
					return
				case job := <-d.workerCh:
					d.deliverWebhook(job)
				}
			}
		}()
	}
}

// AddBackend registers a notification backend.
func (d *Dispatcher) AddBackend(b Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backends = append(d.backends, b)
	slog.Info("notification backend registered", "backend", b.Name())
}

// Stop signals the workers to exit and closes the backends. The worker
// channel stays open so an in-flight retry never sends on a closed channel.
func (d *Dispatcher) Stop() {
	close(d.done)
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.backends {
		b.Close()
	}
}

// Dispatch publishes the event to all broker backends and queues webhook
// deliveries. It never blocks the upload path: a full queue drops the event.
func (d *Dispatcher) Dispatch(event UploadEvent) {
	if event.EventVersion == "" {
		event.EventVersion = "1.0"
	}
	if event.EventSource == "" {
		event.EventSource = "telemetry-gateway"
	}
	if event.EventTime == "" {
		event.EventTime = time.Now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("notify error marshaling event", "error", err)
		return
	}

	d.mu.Lock()
	backends := make([]Backend, len(d.backends))
	copy(backends, d.backends)
	d.mu.Unlock()
	for _, b := range backends {
		if err := b.Publish(context.Background(), payload); err != nil {
			slog.Error("notify backend publish error", "backend", b.Name(), "error", err)
		}
	}

	for _, endpoint := range d.endpoints {
		job := deliveryJob{
			endpoint:   endpoint,
			payload:    payload,
			retryCount: 0,
			maxRetries: d.maxRetries,
		}

		select {
		case d.workerCh <- job:
		default:
			slog.Warn("notify queue full, dropping event", "event", event.EventName, "key", event.ObjectKey)
		}
	}
}

func (d *Dispatcher) deliverWebhook(job deliveryJob) {
	resp, err := d.client.Post(job.endpoint, "application/json", bytes.NewReader(job.payload))
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode < 300 {
			return
		}
		err = &httpError{statusCode: resp.StatusCode}
	}

	if job.retryCount < job.maxRetries-1 {
		backoffIdx := job.retryCount
		if backoffIdx >= len(d.backoff) {
			backoffIdx = len(d.backoff) - 1
		}
		time.Sleep(d.backoff[backoffIdx])

		job.retryCount++
		select {
		case <-d.done:
			slog.Warn("notify dispatcher stopped, dropping webhook retry", "endpoint", job.endpoint)
		case d.workerCh <- job:
		default:
			slog.Warn("notify queue full on retry, dropping webhook", "endpoint", job.endpoint)
		}
	} else {
		slog.Error("notify webhook failed after retries", "retries", job.maxRetries, "endpoint", job.endpoint, "error", err)
	}
}

type httpError struct {
	statusCode int
}

func (e *httpError) Error() string {
	return "webhook returned non-success status"
}
