package pricefeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultBinanceURL is the public spot REST endpoint.
const DefaultBinanceURL = "https://api.binance.com"

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// RESTSource polls the Binance ticker price endpoint once per lookup.
type RESTSource struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewRESTSource creates a REST price source. An empty baseURL uses
// DefaultBinanceURL.
func NewRESTSource(baseURL string, timeout time.Duration, log zerolog.Logger) *RESTSource {
	if baseURL == "" {
		baseURL = DefaultBinanceURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RESTSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "pricefeed").Str("provider", ProviderBinance).Logger(),
	}
}

func (s *RESTSource) Price(ctx context.Context, pair string) (decimal.Decimal, error) {
	endpoint := s.baseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(strings.ToUpper(pair))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug().Err(err).Str("pair", pair).Msg("ticker request failed")
		return decimal.Zero, fmt.Errorf("%w: %v", ErrNoPrice, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: read body: %v", ErrNoPrice, err)
	}
	if resp.StatusCode != http.StatusOK {
		s.log.Debug().Int("status", resp.StatusCode).Str("pair", pair).Msg("ticker request rejected")
		return decimal.Zero, fmt.Errorf("%w: status %d", ErrNoPrice, resp.StatusCode)
	}

	var tp tickerPrice
	if err := json.Unmarshal(body, &tp); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode: %v", ErrNoPrice, err)
	}
	price, err := decimal.NewFromString(tp.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: bad price %q", ErrNoPrice, tp.Price)
	}
	return price, nil
}
