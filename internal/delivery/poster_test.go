package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"poolwatch/internal/config"
	"poolwatch/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroadcaster struct {
	subject string
	data    interface{}
	err     error
}

func (f *fakeBroadcaster) Publish(_ context.Context, subject string, data interface{}) error {
	f.subject, f.data = subject, data
	return f.err
}

func (f *fakeBroadcaster) Health(context.Context) error { return nil }

func testAlert() *domain.PendingAlert {
	return &domain.PendingAlert{
		ID:         "id-1",
		Chain:      domain.ChainBase,
		Variant:    domain.VariantConcentratedLiquidity,
		Pool:       "0xp1",
		Text:       "⚡ High Activity Alert! V3\n\n0xp1",
		EnqueuedAt: time.Unix(1_700_000_000, 0).UTC(),
	}
}

// ========== Telegram Tests ==========

func TestTelegramPoster_Success(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botT0KEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	p, err := NewTelegramPoster(&config.TelegramConfig{Token: "T0KEN", ChatID: "-100", BaseURL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, p.Post(context.Background(), testAlert()))
	assert.Equal(t, "-100", got.ChatID)
	assert.Equal(t, testAlert().Text, got.Text)
}

func TestTelegramPoster_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Too Many Requests: retry after 5"}`))
	}))
	defer srv.Close()

	p, err := NewTelegramPoster(&config.TelegramConfig{Token: "T0KEN", ChatID: "-100", BaseURL: srv.URL})
	require.NoError(t, err)

	err = p.Post(context.Background(), testAlert())
	assert.ErrorIs(t, err, domain.ErrDelivery)
	assert.Contains(t, err.Error(), "Too Many Requests")
}

func TestTelegramPoster_NetworkErrorHidesToken(t *testing.T) {
	p, err := NewTelegramPoster(&config.TelegramConfig{Token: "S3CRET", ChatID: "1", BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	err = p.Post(context.Background(), testAlert())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "S3CRET")
}

func TestNewTelegramPoster_RequiresCredentials(t *testing.T) {
	_, err := NewTelegramPoster(&config.TelegramConfig{ChatID: "1"})
	assert.Error(t, err)
}

// ========== Broadcast Tests ==========

func TestBroadcastPoster_PublishesPerChain(t *testing.T) {
	b := &fakeBroadcaster{}
	p, err := NewBroadcastPoster(b, func(c domain.Chain) string { return "alerts." + string(c) })
	require.NoError(t, err)

	require.NoError(t, p.Post(context.Background(), testAlert()))

	assert.Equal(t, "alerts.base", b.subject)
	msg, ok := b.data.(AlertMessage)
	require.True(t, ok)
	assert.Equal(t, "0xp1", msg.Pool)
	assert.Equal(t, "v3", msg.Variant)
}

func TestBroadcastPoster_FailureIsDeliveryError(t *testing.T) {
	b := &fakeBroadcaster{err: errors.New("nats: connection closed")}
	p, err := NewBroadcastPoster(b, nil)
	require.NoError(t, err)

	err = p.Post(context.Background(), testAlert())
	assert.ErrorIs(t, err, domain.ErrDelivery)
	assert.Equal(t, "poolwatch.alerts.base", b.subject)
}

// ========== Factory Tests ==========

func TestNewPoster_Channels(t *testing.T) {
	lg := newTestLogger()

	p, err := NewPoster(lg, &config.DeliveryConfig{Channel: "log"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "log", p.Name())
	assert.NoError(t, p.Post(context.Background(), testAlert()))

	p, err = NewPoster(lg, &config.DeliveryConfig{Channel: "nats"}, &fakeBroadcaster{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "nats", p.Name())

	_, err = NewPoster(lg, &config.DeliveryConfig{Channel: "nats"}, nil, nil)
	assert.Error(t, err)

	_, err = NewPoster(lg, &config.DeliveryConfig{Channel: "twitter"}, nil, nil)
	assert.Error(t, err)
}
