// Package feed implements the Market Ingestor (§4.A): it subscribes to a
// streaming price feed, normalizes inbound frames into Ticks, and forwards
// them on a bounded channel with drop-oldest backpressure. The
// ping/pong-heartbeat and dial idiom is adapted from
// yohannesjx-sniperterminal/hub.go, inverted from outbound broadcast to an
// inbound subscribe-and-read client.
package feed

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"

	"memetrader/internal/logger"
	"memetrader/internal/metrics"
	"memetrader/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// rawTick is the tolerant inbound shape (§6: "JSON shape with at least
// {symbol, price, volume}; implementation MUST tolerate additional
// fields"). Unknown fields are ignored by encoding/json by default.
type rawTick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// Ingestor owns the feed connection and the outbound tick channel.
type Ingestor struct {
	endpoint   string
	instrument string
	out        chan model.Tick
	baseDelay  time.Duration
	maxDelay   time.Duration
	idleTO     time.Duration
	health     *metrics.Health
}

// New constructs an Ingestor. cap bounds the outbound channel (§4.A:
// "bounded, default capacity 1024").
func New(endpoint, instrument string, cap int, baseDelay, maxDelay, idleTimeout time.Duration, health *metrics.Health) *Ingestor {
	return &Ingestor{
		endpoint:   endpoint,
		instrument: instrument,
		out:        make(chan model.Tick, cap),
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		idleTO:     idleTimeout,
		health:     health,
	}
}

// Ticks returns the outbound channel. It is closed only on terminal
// shutdown (§4.A).
func (in *Ingestor) Ticks() <-chan model.Tick { return in.out }

// Run connects, subscribes, and streams ticks until ctx is cancelled.
// Connection failures are retried forever with exponential backoff and
// jitter (§4.A, §7); decode failures are reported and skipped.
func (in *Ingestor) Run(ctx context.Context) {
	defer close(in.out)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := in.connectAndStream(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			in.health.SetFeedConnected(false)
			metrics.FeedReconnects.Inc()
			delay := backoff(in.baseDelay, in.maxDelay, attempt)
			logger.Warn("FEED", "disconnected, reconnecting in "+delay.String()+": "+err.Error())
			attempt++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
	}
}

func (in *Ingestor) connectAndStream(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, in.endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]any{"op": "subscribe", "channel": "ticker", "market": in.instrument}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	in.health.SetFeedConnected(true)
	logger.Success("FEED", "connected to "+in.endpoint)

	conn.SetReadDeadline(time.Now().Add(in.idleTO))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(in.idleTO))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go in.pingLoop(conn, done)

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return nil
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(in.idleTO))

		var raw rawTick
		if err := json.Unmarshal(data, &raw); err != nil {
			metrics.DecodeErrors.Inc()
			continue
		}
		if raw.Symbol == "" {
			metrics.DecodeErrors.Inc()
			continue
		}

		tick := model.Tick{
			InstrumentID: raw.Symbol,
			Price:        raw.Price,
			Volume:       raw.Volume,
			ReceivedAt:   time.Now(),
		}
		metrics.TicksReceived.Inc()
		in.push(tick)
	}
}

// push enqueues tick, dropping the oldest queued tick if the channel is
// full (§4.A: "newest-first delivery is preferred over blocking").
func (in *Ingestor) push(tick model.Tick) {
	select {
	case in.out <- tick:
		return
	default:
	}
	select {
	case <-in.out:
		metrics.LagDrops.Inc()
	default:
	}
	select {
	case in.out <- tick:
	default:
	}
}

func (in *Ingestor) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// backoff computes the exponential-backoff-with-jitter delay for
// reconnect attempt n (0-indexed): base * 2^n with ±25% jitter, capped at
// max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > max {
			d = max
			break
		}
	}
	jitter := 0.75 + rand.Float64()*0.5 // ±25%
	d = time.Duration(float64(d) * jitter)
	if d > max {
		d = max
	}
	return d
}
