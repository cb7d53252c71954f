package sender

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_FailureRateBounds(t *testing.T) {
	ctx := context.Background()

	always := NewSimulated(1, 0, 1)
	for i := 0; i < 20; i++ {
		assert.ErrorIs(t, always.Send(ctx, "c1", "hi"), ErrSimulatedFailure)
	}

	never := NewSimulated(0, 0, 1)
	for i := 0; i < 20; i++ {
		assert.NoError(t, never.Send(ctx, "c1", "hi"))
	}
}

func TestSimulated_SetFailureRateClamps(t *testing.T) {
	s := NewSimulated(2, 0, 1)
	assert.Equal(t, 1.0, s.FailureRate())
	s.SetFailureRate(-0.5)
	assert.Equal(t, 0.0, s.FailureRate())
}

func TestSimulated_HonoursContext(t *testing.T) {
	s := NewSimulated(0, time.Hour, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Send(ctx, "c1", "hi"), context.DeadlineExceeded)
}

func TestWebhook(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.CustomerID == "bad" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, srv.Client())
	require.NoError(t, w.Send(context.Background(), "c1", "hello"))
	assert.Equal(t, webhookPayload{CustomerID: "c1", Message: "hello"}, got)

	err := w.Send(context.Background(), "bad", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
