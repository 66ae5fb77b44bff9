package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"cryptrader/internal/exchange"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WS streams live trades from the Binance combined stream endpoint.
type WS struct {
	url string
	// symbols in BASE/QUOTE form, converted to stream names on connect
	symbolByStream map[string]string
}

// NewWS builds a trade stream for the given symbols.
func NewWS(baseURL string, symbols []string) *WS {
	byStream := make(map[string]string, len(symbols))
	for _, s := range symbols {
		stream := strings.ToLower(toVenueSymbol(s)) + "@trade"
		byStream[stream] = s
	}
	return &WS{url: baseURL, symbolByStream: byStream}
}

// Stream reads trades until the context is canceled, reconnecting with
// exponential backoff on failure.
func (w *WS) Stream(ctx context.Context, trades chan<- exchange.Trade, errors chan<- error) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := w.streamOnce(ctx, trades); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn().Err(err).Dur("backoff", backoff).Msg("market stream failed, reconnecting")
				select {
				case errors <- fmt.Errorf("ws reconnect: %w", err):
				default:
				}

				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ctx.Err()
				}

				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			backoff = time.Second
		}
	}
}

func (w *WS) streamOnce(ctx context.Context, trades chan<- exchange.Trade) error {
	streams := make([]string, 0, len(w.symbolByStream))
	for stream := range w.symbolByStream {
		streams = append(streams, stream)
	}
	u := w.url + "?streams=" + strings.Join(streams, "/")

	log.Info().Str("url", w.url).Int("streams", len(streams)).Msg("connecting market stream")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(512 * 1024)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	// lastData is written by the reader goroutine and read by the ping loop.
	var lastData atomic.Int64
	lastData.Store(time.Now().UnixNano())
	done := make(chan error, 1)

	go func() {
		for {
			conn.SetReadDeadline(time.Now().Add(90 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				done <- fmt.Errorf("read message failed: %w", err)
				return
			}
			lastData.Store(time.Now().UnixNano())
			w.handleMessage(msg, trades)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case err := <-done:
			return err
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
			if idle := time.Since(time.Unix(0, lastData.Load())); idle > 2*time.Minute {
				return fmt.Errorf("connection appears stale, no data for %v", idle)
			}
		}
	}
}

type streamEnvelope struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
		Qty       string `json:"q"`
		TradeTime int64  `json:"T"`
	} `json:"data"`
}

func (w *WS) handleMessage(msg []byte, trades chan<- exchange.Trade) {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		log.Debug().Err(err).Msg("failed to parse stream message")
		return
	}
	if env.Data.EventType != "trade" {
		return
	}

	symbol, ok := w.symbolByStream[env.Stream]
	if !ok {
		return
	}

	price, err := strconv.ParseFloat(env.Data.Price, 64)
	if err != nil || price <= 0 {
		log.Debug().Str("raw", env.Data.Price).Msg("invalid trade price")
		return
	}
	qty, err := strconv.ParseFloat(env.Data.Qty, 64)
	if err != nil || qty <= 0 {
		log.Debug().Str("raw", env.Data.Qty).Msg("invalid trade quantity")
		return
	}

	trade := exchange.Trade{
		Symbol: symbol,
		Price:  price,
		Qty:    qty,
		Ts:     time.UnixMilli(env.Data.TradeTime),
	}

	select {
	case trades <- trade:
	default:
		log.Warn().Str("symbol", symbol).Msg("trade channel full, dropping message")
	}
}
