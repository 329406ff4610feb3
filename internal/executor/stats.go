package executor

import (
	"sync"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// statsTracker aggregates terminal execution records. Dispatched
// executions (filled, partial, failed) feed the success rate and average
// latency; rejections are counted separately.
type statsTracker struct {
	mu           sync.Mutex
	s            domain.ExecutionStats
	latencyTotal time.Duration
}

func (t *statsTracker) record(exec domain.TradeExecution, duplicate bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch exec.Mode {
	case domain.ModePaper:
		t.s.Paper++
	case domain.ModeLive:
		t.s.Live++
	}

	switch {
	case duplicate:
		t.s.Duplicates++
		t.s.Rejected++
		return
	case exec.Status == domain.ExecRejected:
		t.s.Rejected++
		return
	}

	t.s.Total++
	if exec.Status == domain.ExecFilled || exec.Status == domain.ExecPartial {
		t.s.Successful++
	} else {
		t.s.Failed++
	}
	if exec.NetPnL.Valid {
		t.s.TotalNetPnL = t.s.TotalNetPnL.Add(exec.NetPnL.Decimal)
	}
	t.latencyTotal += exec.Latency.Total
	t.s.AvgLatency = t.latencyTotal / time.Duration(t.s.Total)
	t.s.SuccessRate = float64(t.s.Successful) / float64(t.s.Total) * 100
}

func (t *statsTracker) snapshot() domain.ExecutionStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}
