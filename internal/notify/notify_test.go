package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordSender) Name() string { return "record" }

func (r *recordSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Trade filled", "body"))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Trade filled*\nbody", got["text"])
	assert.Equal(t, "Markdown", got["parse_mode"])
}

func TestDiscordSender(t *testing.T) {
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		kind   string
		color  int
		footer string
	}{
		{"filled", KindTradeFilled, colorGreen, KindTradeFilled},
		{"partial", KindPartialExecution, colorOrange, KindPartialExecution},
		{"circuit open", KindCircuitOpen, colorOrange, KindCircuitOpen},
		{"daily limit", KindDailyLimit, colorRed, KindDailyLimit},
		{"rejected", KindTradeRejected, colorGrey, KindTradeRejected},
		{"unknown kind", "custom", colorGrey, "custom"},
		{"no kind", "", colorGrey, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got discordPayload
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.WriteHeader(http.StatusNoContent)
			}))
			defer srv.Close()

			s := NewDiscordSender(srv.URL)
			s.now = func() time.Time { return at }
			require.NoError(t, s.SendKind(context.Background(), tt.kind, "Halt", "daily"))

			assert.Equal(t, "spreadbot", got.Username)
			require.Len(t, got.Embeds, 1)
			e := got.Embeds[0]
			assert.Equal(t, "Halt", e.Title)
			assert.Equal(t, "daily", e.Description)
			assert.Equal(t, tt.color, e.Color)
			assert.Equal(t, "2026-10-18T12:00:00Z", e.Timestamp)
			if tt.footer == "" {
				assert.Nil(t, e.Footer)
			} else {
				require.NotNil(t, e.Footer)
				assert.Equal(t, tt.footer, e.Footer.Text)
			}
		})
	}
}

func TestDiscordSenderTruncates(t *testing.T) {
	s := NewDiscordSender("http://unused")
	p := s.payload(KindStopLoss, strings.Repeat("t", 300), strings.Repeat("m", 5000))

	e := p.Embeds[0]
	assert.Len(t, []rune(e.Title), discordTitleMax)
	assert.True(t, strings.HasSuffix(e.Title, "…"))
	assert.Len(t, []rune(e.Description), discordDescMax)
	assert.Equal(t, colorRed, e.Color)
}

func TestDiscordSenderErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"rate limited with retry", http.StatusTooManyRequests, `{"retry_after":1.5}`, "unexpected status 429: retry after 1.5s"},
		{"rate limited plain", http.StatusTooManyRequests, "slow down", "unexpected status 429: slow down"},
		{"bad request", http.StatusBadRequest, "bad embed", "unexpected status 400: bad embed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewDiscordSender(srv.URL).Send(context.Background(), "x", "y")
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

type kindRecorder struct {
	recordSender
	kinds []string
}

func (k *kindRecorder) SendKind(_ context.Context, kind, title, _ string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kinds = append(k.kinds, kind)
	k.titles = append(k.titles, title)
	return nil
}

func TestNotifierPassesKind(t *testing.T) {
	ks := &kindRecorder{}
	plain := &recordSender{}
	n := NewNotifier([]Sender{ks, plain}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), KindCircuitOpen, "open", ""))
	require.NoError(t, n.NotifyAllKind(context.Background(), KindDailyLimit, "halt", ""))
	require.NoError(t, n.NotifyAll(context.Background(), "plain", ""))

	assert.Equal(t, []string{KindCircuitOpen, KindDailyLimit}, ks.kinds)
	assert.Equal(t, []string{"open", "halt", "plain"}, ks.sent())
	assert.Equal(t, []string{"open", "halt", "plain"}, plain.sent())
}

func TestNotifierFilter(t *testing.T) {
	rec := &recordSender{}
	n := NewNotifier([]Sender{rec}, []string{KindTradeFilled, " "}, testLogger())

	require.NoError(t, n.Notify(context.Background(), KindTradeFilled, "a", ""))
	require.NoError(t, n.Notify(context.Background(), KindStopLoss, "b", ""))
	require.NoError(t, n.NotifyAll(context.Background(), "c", ""))

	assert.Equal(t, []string{"a", "c"}, rec.sent())
	assert.True(t, NewNotifier(nil, nil, testLogger()).Allowed("anything"))
}

func TestNotifierCollectsErrors(t *testing.T) {
	bad := &recordSender{err: errors.New("down")}
	good := &recordSender{}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	assert.ErrorContains(t, err, "1 sender(s) failed")
	assert.Equal(t, []string{"t"}, good.sent())
}

func TestExecutionAlert(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		name      string
		exec      domain.TradeExecution
		kind      string
		broadcast bool
	}{
		{
			name: "filled",
			exec: domain.TradeExecution{Status: domain.ExecFilled, Mode: domain.ModePaper,
				NetPnL: decimal.NewNullDecimal(d("3.2"))},
			kind: KindTradeFilled,
		},
		{
			name: "one leg filled",
			exec: domain.TradeExecution{Status: domain.ExecFailed, Unbalanced: true,
				Legs: []domain.ExecutionLeg{{Side: domain.OrderSideBuy, Status: domain.LegFilled}, {Side: domain.OrderSideSell, Status: domain.LegFailed, Error: "timeout"}}},
			kind:      KindPartialExecution,
			broadcast: true,
		},
		{
			name: "failed",
			exec: domain.TradeExecution{Status: domain.ExecFailed, ErrorMessage: "both legs failed"},
			kind: KindExecutionFailed,
		},
		{
			name: "rejected",
			exec: domain.TradeExecution{Status: domain.ExecRejected, ErrorMessage: "Risk check rejected: x"},
			kind: KindTradeRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			al := ExecutionAlert(tt.exec)
			assert.Equal(t, tt.kind, al.Kind)
			assert.Equal(t, tt.broadcast, al.Broadcast)
			assert.NotEmpty(t, al.Title)
		})
	}

	filled := ExecutionAlert(domain.TradeExecution{Status: domain.ExecFilled, NetPnL: decimal.NewNullDecimal(d("3.2"))})
	assert.Contains(t, filled.Message, "net P&L +3.20")
}

func TestAlertsDelivery(t *testing.T) {
	rec := &recordSender{}
	// Only trade_filled passes the filter; broadcasts bypass it.
	a := NewAlerts(NewNotifier([]Sender{rec}, []string{KindTradeFilled}, testLogger()), 8, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()

	a.ExecutionResult(ctx, domain.TradeExecution{Status: domain.ExecFilled})
	a.RegimeChange(domain.RegimeNeutral, domain.RegimeDefensive)
	a.DailyLimit("Daily loss limit hit: 6.00%", decimal.RequireFromString("-600"))

	require.Eventually(t, func() bool { return len(rec.sent()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Trade filled (PAPER)", "Trading halted"}, rec.sent())

	cancel()
	<-done
}

func TestAlertsPositionClosed(t *testing.T) {
	a := NewAlerts(NewNotifier(nil, nil, testLogger()), 4, testLogger())
	a.PositionClosed(domain.ClosedPosition{Reason: domain.CloseStopLoss})
	a.PositionClosed(domain.ClosedPosition{Reason: domain.CloseTakeProfit})
	a.PositionClosed(domain.ClosedPosition{Reason: domain.CloseManual})

	require.Len(t, a.queue, 2)
	assert.Equal(t, KindStopLoss, (<-a.queue).Kind)
	assert.Equal(t, KindTakeProfit, (<-a.queue).Kind)
}

func TestAlertsQueueFullDrops(t *testing.T) {
	a := NewAlerts(NewNotifier(nil, nil, testLogger()), 1, testLogger())
	a.CircuitOpen("execution", 5, time.Minute)
	a.CircuitOpen("execution", 5, time.Minute)
	assert.Len(t, a.queue, 1)
}

func TestNilAlertsIsNoop(t *testing.T) {
	var a *Alerts
	assert.NotPanics(t, func() {
		a.ExecutionResult(context.Background(), domain.TradeExecution{})
		a.DailyLimit("x", decimal.Zero)
		a.RegimeChange("", domain.RegimeRiskOn)
	})
}
