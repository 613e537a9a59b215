package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"poolwatch/internal/config"
	"poolwatch/internal/domain"
	"poolwatch/internal/pubsub"

	"gitlab.com/nevasik7/alerting/logger"
)

// NewPoster picks the channel named by delivery.channel
func NewPoster(log logger.Logger, cfg *config.DeliveryConfig, b pubsub.Broadcaster, subject func(domain.Chain) string) (Poster, error) {
	if cfg == nil {
		return nil, errors.New("config is required to the poster")
	}

	switch strings.ToLower(cfg.Channel) {
	case "", "log":
		return NewLogPoster(log), nil
	case "telegram":
		return NewTelegramPoster(&cfg.Telegram)
	case "nats":
		return NewBroadcastPoster(b, subject)
	default:
		return nil, fmt.Errorf("unknown delivery channel %q", cfg.Channel)
	}
}

// ========== log ==========

type LogPoster struct {
	log logger.Logger
}

func NewLogPoster(log logger.Logger) *LogPoster {
	return &LogPoster{log: log}
}

func (p *LogPoster) Name() string { return "log" }

func (p *LogPoster) Post(_ context.Context, alert *domain.PendingAlert) error {
	p.log.WithFields(map[string]interface{}{
		"alert_id": alert.ID,
		"chain":    alert.Chain,
		"variant":  alert.Variant,
		"pool":     alert.Pool,
	}).Info(alert.Text)
	return nil
}

// ========== nats ==========

// AlertMessage is the JSON document published on the broadcast channel
type AlertMessage struct {
	ID         string    `json:"id"`
	Chain      string    `json:"chain"`
	Variant    string    `json:"variant"`
	Pool       string    `json:"pool"`
	Text       string    `json:"text"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type BroadcastPoster struct {
	b       pubsub.Broadcaster
	subject func(domain.Chain) string
}

func NewBroadcastPoster(b pubsub.Broadcaster, subject func(domain.Chain) string) (*BroadcastPoster, error) {
	if b == nil {
		return nil, errors.New("broadcaster is required to the nats poster")
	}
	if subject == nil {
		subject = func(c domain.Chain) string { return "poolwatch.alerts." + string(c) }
	}
	return &BroadcastPoster{b: b, subject: subject}, nil
}

func (p *BroadcastPoster) Name() string { return "nats" }

func (p *BroadcastPoster) Post(ctx context.Context, alert *domain.PendingAlert) error {
	msg := AlertMessage{
		ID:         alert.ID,
		Chain:      string(alert.Chain),
		Variant:    string(alert.Variant),
		Pool:       alert.Pool,
		Text:       alert.Text,
		EnqueuedAt: alert.EnqueuedAt,
	}
	if err := p.b.Publish(ctx, p.subject(alert.Chain), msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	return nil
}

// ========== telegram ==========

const telegramAPI = "https://api.telegram.org"

type TelegramPoster struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramPoster(cfg *config.TelegramConfig) (*TelegramPoster, error) {
	if cfg == nil || cfg.Token == "" || cfg.ChatID == "" {
		return nil, errors.New("telegram token and chat_id are required")
	}

	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = telegramAPI
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &TelegramPoster{
		baseURL: base,
		token:   cfg.Token,
		chatID:  cfg.ChatID,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (p *TelegramPoster) Name() string { return "telegram" }

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (p *TelegramPoster) Post(ctx context.Context, alert *domain.PendingAlert) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                p.chatID,
		Text:                  alert.Text,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", p.baseURL, p.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		// the token is part of the url, never surface it
		return fmt.Errorf("%w: telegram request failed", domain.ErrDelivery)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var out telegramResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK || !out.OK {
		return fmt.Errorf("%w: telegram status %d: %s", domain.ErrDelivery, resp.StatusCode, out.Description)
	}
	return nil
}
