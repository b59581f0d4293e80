package forwarder

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	EntriesCaptured   int
	EntriesEchoed     int
	EntriesSent       int
	EntriesRequeued   int
	BatchesSent       int
	BatchesFailed     int
	DeliveriesSkipped int
	mu                sync.RWMutex
}

func (m *Metrics) IncCaptured() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EntriesCaptured++
}

func (m *Metrics) IncEchoed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EntriesEchoed++
}

func (m *Metrics) IncBatchesSent(entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchesSent++
	m.EntriesSent += entries
}

func (m *Metrics) IncBatchesFailed(entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchesFailed++
	m.EntriesRequeued += entries
}

func (m *Metrics) IncSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeliveriesSkipped++
}

// Attempts is the number of delivery attempts made, successful or not.
func (m *Metrics) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.BatchesSent + m.BatchesFailed
}

func (m *Metrics) Stamp() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		EntriesCaptured:   m.EntriesCaptured,
		EntriesEchoed:     m.EntriesEchoed,
		EntriesSent:       m.EntriesSent,
		EntriesRequeued:   m.EntriesRequeued,
		BatchesSent:       m.BatchesSent,
		BatchesFailed:     m.BatchesFailed,
		DeliveriesSkipped: m.DeliveriesSkipped,
	}
}

// Collector exposes a forwarder's metrics to Prometheus.
type Collector struct {
	f *Forwarder

	captured *prometheus.Desc
	echoed   *prometheus.Desc
	sent     *prometheus.Desc
	requeued *prometheus.Desc
	batches  *prometheus.Desc
	skipped  *prometheus.Desc
	pending  *prometheus.Desc
}

func NewCollector(f *Forwarder, namespace string) *Collector {
	name := func(n string) string {
		return prometheus.BuildFQName(namespace, "forwarder", n)
	}
	return &Collector{
		f:        f,
		captured: prometheus.NewDesc(name("entries_captured_total"), "Entries captured for remote delivery.", nil, nil),
		echoed:   prometheus.NewDesc(name("entries_echoed_total"), "Records echoed to the console in debug mode.", nil, nil),
		sent:     prometheus.NewDesc(name("entries_sent_total"), "Entries accepted by the collector.", nil, nil),
		requeued: prometheus.NewDesc(name("entries_requeued_total"), "Entries put back after a failed delivery.", nil, nil),
		batches:  prometheus.NewDesc(name("batches_total"), "Delivery attempts by result.", []string{"result"}, nil),
		skipped:  prometheus.NewDesc(name("deliveries_skipped_total"), "Triggers ignored because a delivery was in flight.", nil, nil),
		pending:  prometheus.NewDesc(name("pending_entries"), "Entries waiting for delivery.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.captured
	ch <- c.echoed
	ch <- c.sent
	ch <- c.requeued
	ch <- c.batches
	ch <- c.skipped
	ch <- c.pending
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.f.Metrics()

	ch <- prometheus.MustNewConstMetric(c.captured, prometheus.CounterValue, float64(m.EntriesCaptured))
	ch <- prometheus.MustNewConstMetric(c.echoed, prometheus.CounterValue, float64(m.EntriesEchoed))
	ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(m.EntriesSent))
	ch <- prometheus.MustNewConstMetric(c.requeued, prometheus.CounterValue, float64(m.EntriesRequeued))
	ch <- prometheus.MustNewConstMetric(c.batches, prometheus.CounterValue, float64(m.BatchesSent), "success")
	ch <- prometheus.MustNewConstMetric(c.batches, prometheus.CounterValue, float64(m.BatchesFailed), "failure")
	ch <- prometheus.MustNewConstMetric(c.skipped, prometheus.CounterValue, float64(m.DeliveriesSkipped))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(c.f.buffer.Len()))
}
