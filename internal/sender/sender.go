// Package sender provides delivery.Sender implementations.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSimulatedFailure is returned by Simulated for the configured share of sends.
var ErrSimulatedFailure = errors.New("simulated vendor failure")

// Log accepts every message and logs it.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Send(ctx context.Context, customerID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.logger.Info("message sent", "customer_id", customerID, "bytes", len(message))
	return nil
}

// Simulated stands in for a vendor API: it waits a random latency up to the
// configured maximum and fails a fraction of sends.
type Simulated struct {
	failureRate atomic.Uint64 // math.Float64bits
	maxLatency  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated returns a Simulated sender. failureRate is clamped to [0, 1].
func NewSimulated(failureRate float64, maxLatency time.Duration, seed int64) *Simulated {
	s := &Simulated{maxLatency: maxLatency, rng: rand.New(rand.NewSource(seed))}
	s.SetFailureRate(failureRate)
	return s
}

// SetFailureRate swaps the failure rate; used on config reload.
func (s *Simulated) SetFailureRate(rate float64) {
	rate = math.Max(0, math.Min(1, rate))
	s.failureRate.Store(math.Float64bits(rate))
}

func (s *Simulated) FailureRate() float64 {
	return math.Float64frombits(s.failureRate.Load())
}

func (s *Simulated) Send(ctx context.Context, customerID, message string) error {
	s.mu.Lock()
	var wait time.Duration
	if s.maxLatency > 0 {
		wait = time.Duration(s.rng.Int63n(int64(s.maxLatency) + 1))
	}
	roll := s.rng.Float64()
	s.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	if roll < s.FailureRate() {
		return fmt.Errorf("send to %s: %w", customerID, ErrSimulatedFailure)
	}
	return nil
}

// Webhook POSTs each message as JSON to a vendor endpoint. Any non-2xx response is a
// failed attempt.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{}
	}
	return &Webhook{url: url, client: client}
}

type webhookPayload struct {
	CustomerID string `json:"customerId"`
	Message    string `json:"message"`
}

func (w *Webhook) Send(ctx context.Context, customerID, message string) error {
	body, err := json.Marshal(webhookPayload{CustomerID: customerID, Message: message})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to vendor: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vendor returned %d", resp.StatusCode)
	}
	return nil
}
