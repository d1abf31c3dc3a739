package dispatch

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

const DefaultMetricsPrefix = "dualdb"

// collector holds the per-adapter query metrics. Everything is created up front so the
// query path only increments.
type collector struct {
	set *metrics.Set

	queries       *metrics.Counter
	queryErrors   *metrics.Counter
	slowQueries   *metrics.Counter
	queryDuration *metrics.Histogram
	committed     *metrics.Counter
	rolledBack    *metrics.Counter
}

// newCollector registers the metrics for adapter in set. GetOrCreate is used so two
// dispatchers over the same backend can share a set.
func newCollector(set *metrics.Set, prefix, adapter string) *collector {
	label := fmt.Sprintf(`{adapter=%q}`, adapter)
	return &collector{
		set:           set,
		queries:       set.GetOrCreateCounter(prefix + "_queries_total" + label),
		queryErrors:   set.GetOrCreateCounter(prefix + "_query_errors_total" + label),
		slowQueries:   set.GetOrCreateCounter(prefix + "_slow_queries_total" + label),
		queryDuration: set.GetOrCreateHistogram(prefix + "_query_duration_seconds" + label),
		committed: set.GetOrCreateCounter(
			fmt.Sprintf(`%s_transactions_total{adapter=%q,outcome="commit"}`, prefix, adapter)),
		rolledBack: set.GetOrCreateCounter(
			fmt.Sprintf(`%s_transactions_total{adapter=%q,outcome="rollback"}`, prefix, adapter)),
	}
}

func (c *collector) query(start time.Time, slow, failed bool) {
	c.queries.Inc()
	c.queryDuration.UpdateDuration(start)
	if slow {
		c.slowQueries.Inc()
	}
	if failed {
		c.queryErrors.Inc()
	}
}

func (c *collector) transaction(committed bool) {
	if committed {
		c.committed.Inc()
		return
	}
	c.rolledBack.Inc()
}

func (c *collector) writePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}
