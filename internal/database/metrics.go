package database

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports pool statistics of a Bootstrap on every scrape.
type Collector struct {
	b *Bootstrap

	state     *prometheus.Desc
	capacity  *prometheus.Desc
	inUse     *prometheus.Desc
	waiting   *prometheus.Desc
	open      *prometheus.Desc
	idle      *prometheus.Desc
	acquired  *prometheus.Desc
	exhausted *prometheus.Desc
	discarded *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector reading from b.
func NewCollector(b *Bootstrap) *Collector {
	return &Collector{
		b: b,
		state: prometheus.NewDesc("chaos_db_state",
			"Lifecycle state of the database bootstrap (1 for the current state).", []string{"state"}, nil),
		capacity: prometheus.NewDesc("chaos_db_pool_capacity",
			"Maximum number of concurrent leases (pool size plus overflow).", nil, nil),
		inUse: prometheus.NewDesc("chaos_db_pool_in_use",
			"Connections currently leased.", nil, nil),
		waiting: prometheus.NewDesc("chaos_db_pool_waiting",
			"Callers waiting for a lease.", nil, nil),
		open: prometheus.NewDesc("chaos_db_pool_open_connections",
			"Physical connections held by the pool.", nil, nil),
		idle: prometheus.NewDesc("chaos_db_pool_idle_connections",
			"Physical connections idle in the pool.", nil, nil),
		acquired: prometheus.NewDesc("chaos_db_pool_acquired_total",
			"Leases granted.", nil, nil),
		exhausted: prometheus.NewDesc("chaos_db_pool_exhausted_total",
			"Acquire calls that gave up after the pool timeout.", nil, nil),
		discarded: prometheus.NewDesc("chaos_db_pool_discarded_total",
			"Broken connections dropped on release.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.capacity
	ch <- c.inUse
	ch <- c.waiting
	ch <- c.open
	ch <- c.idle
	ch <- c.acquired
	ch <- c.exhausted
	ch <- c.discarded
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.b.Stats()

	for st := StateUninitialized; st <= StateFailed; st++ {
		v := 0.0
		if st == s.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, st.String())
	}

	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse))
	ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(s.Waiting))
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.CounterValue, float64(s.Acquired))
	ch <- prometheus.MustNewConstMetric(c.exhausted, prometheus.CounterValue, float64(s.Exhausted))
	ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(s.Discarded))
}
