package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finara-hq/be-expenses/internal/errors"
)

// rateCacheTTL bounds how stale a cached rate table may be.
const rateCacheTTL = time.Hour

// CurrencyClient fetches exchange rates from an exchangerate-api compatible
// REST endpoint (GET <baseURL>/<from> returns a rates map keyed by currency
// code). Rate tables are cached per base currency.
type CurrencyClient struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedRates
}

type cachedRates struct {
	rates     map[string]decimal.Decimal
	fetchedAt time.Time
}

type ratesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]json.RawMessage `json:"rates"`
}

// NewCurrencyClient creates a client for the given API base URL.
func NewCurrencyClient(baseURL string, timeout time.Duration, log zerolog.Logger) *CurrencyClient {
	return &CurrencyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
		cache:   make(map[string]cachedRates),
	}
}

// GetRate returns the exchange rate from one currency to another. The
// same-currency rate is exactly 1 and never touches the network.
func (c *CurrencyClient) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)

	if from == to {
		return decimal.NewFromInt(1), nil
	}

	rates, err := c.getRates(ctx, from)
	if err != nil {
		return decimal.Zero, err
	}

	rate, ok := rates[to]
	if !ok {
		return decimal.Zero, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("no exchange rate from %s to %s", from, to))
	}
	return rate, nil
}

func (c *CurrencyClient) getRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	c.mu.Lock()
	cached, ok := c.cache[base]
	c.mu.Unlock()
	if ok && time.Since(cached.fetchedAt) < rateCacheTTL {
		return cached.rates, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+base, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "currency: failed to build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "currency: rate fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("currency: rate API returned status %d for base %s", resp.StatusCode, base))
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "currency: failed to decode rate response")
	}

	rates := make(map[string]decimal.Decimal, len(body.Rates))
	for code, raw := range body.Rates {
		rate, err := decimal.NewFromString(strings.TrimSpace(string(raw)))
		if err != nil {
			continue
		}
		rates[strings.ToUpper(code)] = rate
	}
	if len(rates) == 0 {
		return nil, errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("currency: rate API returned no usable rates for base %s", base))
	}

	c.mu.Lock()
	c.cache[base] = cachedRates{rates: rates, fetchedAt: time.Now()}
	c.mu.Unlock()

	c.log.Debug().
		Str("base", base).
		Int("rate_count", len(rates)).
		Msg("currency: rate table refreshed")

	return rates, nil
}
