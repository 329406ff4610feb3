package macro

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestCalendar_TimedEventWindow(t *testing.T) {
	cal := NewCalendar(DefaultEvents(), "")

	tests := []struct {
		name  string
		at    string
		pause bool
	}{
		{"well before FOMC", "2026-10-29T16:00:00Z", false},
		{"window opens", "2026-10-29T16:30:00Z", true},
		{"during", "2026-10-29T18:10:00Z", true},
		{"window closes", "2026-10-29T19:30:00Z", true},
		{"after", "2026-10-29T19:31:00Z", false},
		{"NFP", "2026-10-02T13:45:00Z", true},
		{"quiet day", "2026-10-18T12:00:00Z", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pause, reason := cal.PauseAt(mustTime(t, tt.at))
			assert.Equal(t, tt.pause, pause, reason)
			if pause {
				assert.Contains(t, reason, "Macro event:")
			}
		})
	}
}

func TestCalendar_ReasonTiming(t *testing.T) {
	cal := NewCalendar(DefaultEvents(), "")

	_, before := cal.PauseAt(mustTime(t, "2026-10-29T17:48:00Z"))
	assert.Equal(t, "Macro event: FOMC Rate Decision (CRITICAL) - starts in 12m", before)

	_, after := cal.PauseAt(mustTime(t, "2026-10-29T18:05:00Z"))
	assert.Equal(t, "Macro event: FOMC Rate Decision (CRITICAL) - started 5m ago", after)
}

func TestCalendar_AllDayEvent(t *testing.T) {
	cal := NewCalendar(DefaultEvents(), "")

	pause, reason := cal.PauseAt(mustTime(t, "2026-11-04T20:00:00Z"))
	assert.True(t, pause)
	assert.Equal(t, "Macro event: US Midterm Elections (CRITICAL)", reason)

	pause, _ = cal.PauseAt(mustTime(t, "2026-11-01T00:00:00Z"))
	assert.True(t, pause, "48h window opens two days before")

	pause, _ = cal.PauseAt(mustTime(t, "2026-10-31T23:59:00Z"))
	assert.False(t, pause)
}

func TestCalendar_MinImpactFilters(t *testing.T) {
	cal := NewCalendar(DefaultEvents(), ImpactHigh)

	pause, _ := cal.PauseAt(mustTime(t, "2026-12-25T06:00:00Z"))
	assert.False(t, pause, "LOW holiday ignored")

	pause, _ = cal.PauseAt(mustTime(t, "2026-12-16T18:00:00Z"))
	assert.True(t, pause)
}

func TestCalendar_UpcomingAndNextCritical(t *testing.T) {
	cal := NewCalendar(DefaultEvents(), "")
	now := mustTime(t, "2026-10-27T00:00:00Z")

	up := cal.Upcoming(now, 5)
	require.Len(t, up, 1)
	assert.Equal(t, "FOMC Rate Decision", up[0].Name)

	next, ok := cal.NextCritical(mustTime(t, "2026-10-30T00:00:00Z"))
	require.True(t, ok)
	assert.Equal(t, "US Midterm Elections", next.Name)
}

func TestParseImpact(t *testing.T) {
	i, err := ParseImpact("critical")
	require.NoError(t, err)
	assert.Equal(t, ImpactCritical, i)

	_, err = ParseImpact("severe")
	assert.Error(t, err)
}

func TestZones(t *testing.T) {
	z := NewZones(DefaultZones())
	dec := decimal.RequireFromString

	tests := []struct {
		symbol  string
		price   string
		allowed bool
		known   bool
	}{
		{"BTC/USDT", "45000", true, true},
		{"BTCUSDT", "30000", true, true},
		{"BTC-USD", "69000", false, true},
		{"eth", "2500", true, true},
		{"XRP/USDT", "0.66", false, true},
		{"DOGE/USDT", "0.1", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.symbol+"@"+tt.price, func(t *testing.T) {
			allowed, known := z.ShouldAccumulate(tt.symbol, dec(tt.price))
			assert.Equal(t, tt.allowed, allowed)
			assert.Equal(t, tt.known, known)
		})
	}

	status, ok := z.Status("SOL/USDT", dec("79.99"))
	require.True(t, ok)
	assert.Equal(t, ZoneBelow, status)
}

func TestBaseAsset(t *testing.T) {
	assert.Equal(t, "BTC", BaseAsset("BTC/USDT"))
	assert.Equal(t, "ETH", BaseAsset("ethusdc"))
	assert.Equal(t, "LINK", BaseAsset("LINK_USD"))
	assert.Equal(t, "USDT", BaseAsset("USDT"))
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, domain.RegimeDefensive, Classify(9.0, 200, th))
	assert.Equal(t, domain.RegimeRiskOn, Classify(6.5, 160, th))
	assert.Equal(t, domain.RegimeNeutral, Classify(6.5, 140, th))
	assert.Equal(t, domain.RegimeNeutral, Classify(fallbackDominance, fallbackSupply, th))
}

type flakySource struct {
	regime domain.Regime
	err    error
}

func (f *flakySource) Regime(context.Context) (domain.Regime, error) { return f.regime, f.err }

func TestDetector_AppliesPresetsAndKeepsLastOnError(t *testing.T) {
	src := &flakySource{regime: domain.RegimeDefensive}
	det := NewDetector(src, nil, slog.Default())
	var changes []string
	det.OnChange(func(from, to domain.Regime) { changes = append(changes, string(from)+"->"+string(to)) })

	cfg, ok, err := det.Current(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cfg.AvoidNewPositions)
	assert.True(t, cfg.AccumulationOnly)
	assert.True(t, cfg.MaxPositionCap.Equal(decimal.RequireFromString("0.005")))

	src.err = errors.New("redis down")
	cfg, ok, err = det.Current(context.Background())
	assert.Error(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.RegimeDefensive, cfg.Regime)

	src.err = nil
	src.regime = domain.RegimeRiskOn
	cfg, ok, err = det.Current(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cfg.TakeProfitPct.Decimal.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, []string{"->DEFENSIVE", "DEFENSIVE->RISK_ON"}, changes)
}

func TestDetector_NilSourceDisablesOverrides(t *testing.T) {
	det := NewDetector(nil, nil, slog.Default())
	_, ok, err := det.Current(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestCoinGeckoSource(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Path {
		case "/api/v3/global":
			_, _ = w.Write([]byte(`{"data":{"market_cap_percentage":{"btc":55.1,"usdt":6.2}}}`))
		case "/api/v3/simple/price":
			assert.Equal(t, "true", r.URL.Query().Get("include_market_cap"))
			_, _ = w.Write([]byte(`{"tether":{"usd":1,"usd_market_cap":120000000000},"usd-coin":{"usd":1,"usd_market_cap":45000000000}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewCoinGeckoSource(srv.URL, DefaultThresholds(), time.Minute, slog.Default())
	r, err := src.Regime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeRiskOn, r)

	_, err = src.Regime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "second call served from cache")
}

func TestCoinGeckoSource_FallsBackToNeutral(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewCoinGeckoSource(srv.URL, DefaultThresholds(), time.Minute, slog.Default())
	r, err := src.Regime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeNeutral, r)
}
