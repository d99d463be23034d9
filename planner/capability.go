package planner

import (
	"context"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/nodeplan/common/stats"
	"github.com/twitter/nodeplan/remote"
)

// FetchCapabilities queries every session concurrently, each bounded by timeout,
// and returns the reports keyed by node name. Node names that share a host
// are queried and keyed separately. Failed queries are logged and left out. If every query fails the error wraps ErrNoCapabilities.
func FetchCapabilities(ctx context.Context, sessions []remote.Session, timeout time.Duration) (map[string]remote.CapabilityReport, error) {
	return fetchCapabilities(ctx, sessions, timeout, stats.NilStatsReceiver())
}

func fetchCapabilities(
	ctx context.Context,
	sessions []remote.Session,
	timeout time.Duration,
	stat stats.StatsReceiver,
) (map[string]remote.CapabilityReport, error) {
	defer stat.Latency(stats.PlannerCapabilityLatency_ms).Time().Stop()

	if len(sessions) == 0 {
		return map[string]remote.CapabilityReport{}, nil
	}

	reports := make([]remote.CapabilityReport, len(sessions))
	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s remote.Session) {
			defer wg.Done()
			qctx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				qctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			reports[i], errs[i] = s.Capabilities(qctx)
		}(i, s)
	}
	wg.Wait()

	out := make(map[string]remote.CapabilityReport, len(sessions))
	var last error
	for i, s := range sessions {
		if errs[i] != nil {
			stat.Counter(stats.PlannerCapabilityFailedCounter).Inc(1)
			log.Warnf("Capability query to %s failed, it gets no workers: %v", s.Node(), errs[i])
			last = errs[i]
			continue
		}
		stat.Counter(stats.PlannerCapabilityOkCounter).Inc(1)
		out[string(s.Node())] = reports[i]
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(ErrNoCapabilities, "all %d queries failed, last error: %v", len(sessions), last)
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("Capability reports:\n%s", spew.Sdump(out))
	}
	return out, nil
}
