package macro

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// Fallback inputs used when the market data API is unreachable. Together
// they classify as NEUTRAL.
const (
	fallbackDominance = 7.5
	fallbackSupply    = 140.0
)

var stablecoinIDs = []string{"tether", "usd-coin", "dai", "binance-usd"}

// CoinGeckoSource derives the regime from USDT dominance and total
// stablecoin market cap. Results are cached for the refresh interval.
type CoinGeckoSource struct {
	baseURL    string
	thresholds Thresholds
	refresh    time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	cached    domain.Regime
	fetchedAt time.Time
}

// NewCoinGeckoSource creates a source against baseURL, e.g.
// "https://api.coingecko.com".
func NewCoinGeckoSource(baseURL string, th Thresholds, refresh time.Duration, logger *slog.Logger) *CoinGeckoSource {
	return &CoinGeckoSource{
		baseURL:    baseURL,
		thresholds: th,
		refresh:    refresh,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With(slog.String("component", "coingecko")),
	}
}

// Regime implements Source.
func (s *CoinGeckoSource) Regime(ctx context.Context) (domain.Regime, error) {
	s.mu.Lock()
	if s.cached != "" && time.Since(s.fetchedAt) < s.refresh {
		r := s.cached
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	dominance, err := s.usdtDominance(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "coingecko: dominance fetch failed", slog.String("error", err.Error()))
		dominance = fallbackDominance
	}
	supply, err := s.stablecoinSupply(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "coingecko: stablecoin supply fetch failed", slog.String("error", err.Error()))
		supply = fallbackSupply
	}

	regime := Classify(dominance, supply, s.thresholds)
	s.logger.DebugContext(ctx, "coingecko: classified",
		slog.Float64("usdt_dominance", dominance),
		slog.Float64("stablecoin_supply_b", supply),
		slog.String("regime", string(regime)),
	)

	s.mu.Lock()
	s.cached = regime
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return regime, nil
}

func (s *CoinGeckoSource) usdtDominance(ctx context.Context) (float64, error) {
	var payload struct {
		Data struct {
			MarketCapPercentage map[string]float64 `json:"market_cap_percentage"`
		} `json:"data"`
	}
	if err := s.getJSON(ctx, "/api/v3/global", nil, &payload); err != nil {
		return 0, err
	}
	return payload.Data.MarketCapPercentage["usdt"], nil
}

func (s *CoinGeckoSource) stablecoinSupply(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(stablecoinIDs, ","))
	params.Set("vs_currencies", "usd")
	params.Set("include_market_cap", "true")

	var payload map[string]struct {
		USDMarketCap float64 `json:"usd_market_cap"`
	}
	if err := s.getJSON(ctx, "/api/v3/simple/price", params, &payload); err != nil {
		return 0, err
	}
	var total float64
	for _, coin := range payload {
		total += coin.USDMarketCap / 1e9
	}
	return total, nil
}

func (s *CoinGeckoSource) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	fullURL := s.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("coingecko: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coingecko: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("coingecko: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coingecko: HTTP %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("coingecko: decode %s: %w", path, err)
	}
	return nil
}
