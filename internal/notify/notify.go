// Package notify delivers trading events to a generic webhook and to
// Telegram. Delivery is best effort with a small retry budget; the trading
// loop never blocks on a notifier.
package notify

import (
	"context"
	"fmt"
	"time"

	"cryptrader/internal/cfg"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Event types emitted by the engine.
const (
	EventOrderFilled  = "order_filled"
	EventOrderFailed  = "order_failed"
	EventTradingHalt  = "trading_halt"
	EventTradingStart = "trading_start"
	EventDailySummary = "daily_summary"
)

// Event is one notification payload.
type Event struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
	Ts      time.Time      `json:"ts"`
}

// Notifier fans events out to the configured channels.
type Notifier struct {
	rest         *resty.Client
	webhookURL   string
	telegramURL  string
	telegramChat string
	events       map[string]bool // nil means all events
	queue        chan Event
}

// New creates a notifier from config. Returns nil when no channel is
// configured; a nil *Notifier is safe to use.
func New(nc cfg.NotificationConfig) *Notifier {
	if nc.WebhookURL == "" && nc.TelegramToken == "" {
		return nil
	}

	var events map[string]bool
	if len(nc.Events) > 0 {
		events = make(map[string]bool, len(nc.Events))
		for _, e := range nc.Events {
			events[e] = true
		}
	}

	n := &Notifier{
		rest:       resty.New().SetTimeout(10 * time.Second).SetRetryCount(2).SetRetryWaitTime(time.Second),
		webhookURL: nc.WebhookURL,
		events:     events,
		queue:      make(chan Event, 100),
	}
	if nc.TelegramToken != "" && nc.TelegramChat != "" {
		n.telegramURL = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", nc.TelegramToken)
		n.telegramChat = nc.TelegramChat
	}
	return n
}

// Run delivers queued events until the context is canceled.
func (n *Notifier) Run(ctx context.Context) {
	if n == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.queue:
			n.deliver(ctx, ev)
		}
	}
}

// Notify enqueues an event. Filtered or overflowing events are dropped.
func (n *Notifier) Notify(eventType, message string, fields map[string]any) {
	if n == nil {
		return
	}
	if n.events != nil && !n.events[eventType] {
		return
	}
	ev := Event{Type: eventType, Message: message, Fields: fields, Ts: time.Now()}
	select {
	case n.queue <- ev:
	default:
		log.Warn().Str("type", eventType).Msg("notification queue full, dropping event")
	}
}

func (n *Notifier) deliver(ctx context.Context, ev Event) {
	if n.webhookURL != "" {
		resp, err := n.rest.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(ev).
			Post(n.webhookURL)
		if err != nil {
			log.Warn().Err(err).Str("type", ev.Type).Msg("webhook delivery failed")
		} else if resp.StatusCode() >= 300 {
			log.Warn().Int("status", resp.StatusCode()).Str("type", ev.Type).Msg("webhook rejected event")
		}
	}

	if n.telegramURL != "" {
		text := fmt.Sprintf("[%s] %s", ev.Type, ev.Message)
		resp, err := n.rest.R().
			SetContext(ctx).
			SetBody(map[string]string{"chat_id": n.telegramChat, "text": text}).
			Post(n.telegramURL)
		if err != nil {
			log.Warn().Err(err).Str("type", ev.Type).Msg("telegram delivery failed")
		} else if resp.StatusCode() >= 300 {
			log.Warn().Int("status", resp.StatusCode()).Str("type", ev.Type).Msg("telegram rejected event")
		}
	}
}
