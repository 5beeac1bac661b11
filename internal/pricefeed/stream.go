package pricefeed

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultStreamURL is the Binance all-market mini ticker stream.
const DefaultStreamURL = "wss://stream.binance.com:9443/ws/!miniTicker@arr"

type miniTicker struct {
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	EventTime int64  `json:"E"`
}

type quote struct {
	price decimal.Decimal
	at    time.Time
}

// StreamSource keeps the last traded price of every symbol from a websocket
// ticker stream. Lookups never block on the network; quotes older than
// MaxAge are reported as missing.
type StreamSource struct {
	url    string
	maxAge time.Duration
	log    zerolog.Logger

	mu     sync.RWMutex
	quotes map[string]quote
}

// NewStreamSource creates a stream source. Call Run to start consuming.
func NewStreamSource(url string, maxAge time.Duration, log zerolog.Logger) *StreamSource {
	if url == "" {
		url = DefaultStreamURL
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &StreamSource{
		url:    url,
		maxAge: maxAge,
		log:    log.With().Str("component", "pricefeed").Str("provider", ProviderBinanceWS).Logger(),
		quotes: make(map[string]quote),
	}
}

func (s *StreamSource) Price(_ context.Context, pair string) (decimal.Decimal, error) {
	s.mu.RLock()
	q, ok := s.quotes[strings.ToUpper(pair)]
	s.mu.RUnlock()

	if !ok || time.Since(q.at) > s.maxAge {
		return decimal.Zero, ErrNoPrice
	}
	return q.price, nil
}

// Run consumes the stream until ctx is cancelled, reconnecting with
// exponential backoff.
func (s *StreamSource) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Dur("backoff", backoff).Msg("price stream disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (s *StreamSource) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.log.Info().Str("url", s.url).Msg("connected price stream")

	conn.SetReadLimit(4 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		s.apply(message)
	}
}

// apply decodes one stream frame. Both the array form of the all-market
// stream and single ticker objects are accepted.
func (s *StreamSource) apply(message []byte) {
	var batch []miniTicker
	if err := json.Unmarshal(message, &batch); err != nil {
		var one miniTicker
		if err := json.Unmarshal(message, &one); err != nil {
			s.log.Warn().Err(err).Msg("failed to decode ticker frame")
			return
		}
		batch = []miniTicker{one}
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range batch {
		price, err := decimal.NewFromString(t.Close)
		if err != nil || t.Symbol == "" || !price.IsPositive() {
			continue
		}
		s.quotes[strings.ToUpper(t.Symbol)] = quote{price: price, at: now}
	}
}
