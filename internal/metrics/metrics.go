// Package metrics exposes Prometheus metrics for the audio objects, the
// memory pool and the archive.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oszuidwest/zwfm-audioplane/internal/archive"
	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

const namespace = "audioplane"

// ObjectMetrics counts object lifecycle events. It implements
// object.Observer.
type ObjectMetrics struct {
	StateTransitions *prometheus.CounterVec // by object, from, to
	State            *prometheus.GaugeVec   // 1 for the current state of an object
	Replies          *prometheus.CounterVec // by object, command, result
	Attentions       *prometheus.CounterVec // by object, code
}

// NewObjectMetrics creates the object metrics and registers them.
func NewObjectMetrics(registry prometheus.Registerer) (*ObjectMetrics, error) {
	m := &ObjectMetrics{
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "object_state_transitions_total",
			Help:      "Total number of audio object state transitions",
		}, []string{"object", "from", "to"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "object_state",
			Help:      "Current state of each audio object (1 for the active state)",
		}, []string{"object", "state"}),
		Replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "object_replies_total",
			Help:      "Total number of command replies by object, command and result",
		}, []string{"object", "command", "result"}),
		Attentions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "object_attentions_total",
			Help:      "Total number of fatal attention conditions by object and code",
		}, []string{"object", "code"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register object metrics: %w", err)
	}
	return m, nil
}

// StateChanged records a transition.
func (m *ObjectMetrics) StateChanged(object string, from, to types.State) {
	m.StateTransitions.WithLabelValues(object, string(from), string(to)).Inc()
	m.State.WithLabelValues(object, string(from)).Set(0)
	m.State.WithLabelValues(object, string(to)).Set(1)
}

// Replied counts a reply.
func (m *ObjectMetrics) Replied(reply types.Reply) {
	m.Replies.WithLabelValues(reply.Object, reply.Command, reply.Result.String()).Inc()
}

// Attention counts an attention.
func (m *ObjectMetrics) Attention(object string, code types.Result, _ string) {
	m.Attentions.WithLabelValues(object, code.String()).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *ObjectMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.StateTransitions.Describe(ch)
	m.State.Describe(ch)
	m.Replies.Describe(ch)
	m.Attentions.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ObjectMetrics) Collect(ch chan<- prometheus.Metric) {
	m.StateTransitions.Collect(ch)
	m.State.Collect(ch)
	m.Replies.Collect(ch)
	m.Attentions.Collect(ch)
}

// PoolCollector reports memory pool usage at scrape time.
type PoolCollector struct {
	pool *memhandle.Manager
	ids  []memhandle.PoolID

	free     *prometheus.Desc
	segments *prometheus.Desc
	inUse    *prometheus.Desc
	allocs   *prometheus.Desc
	releases *prometheus.Desc
}

// NewPoolCollector creates a collector for the given pools.
func NewPoolCollector(pool *memhandle.Manager, ids ...memhandle.PoolID) *PoolCollector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "memhandle", n) }
	return &PoolCollector{
		pool:     pool,
		ids:      ids,
		free:     prometheus.NewDesc(name("free_segments"), "Free segments per pool", []string{"pool"}, nil),
		segments: prometheus.NewDesc(name("segments"), "Configured segments per pool", []string{"pool"}, nil),
		inUse:    prometheus.NewDesc(name("in_use"), "Segments currently allocated across all pools", nil, nil),
		allocs:   prometheus.NewDesc(name("allocs_total"), "Total number of segment allocations", nil, nil),
		releases: prometheus.NewDesc(name("releases_total"), "Total number of segment releases", nil, nil),
	}
}

// Describe implements the prometheus.Collector interface.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.free
	ch <- c.segments
	ch <- c.inUse
	ch <- c.allocs
	ch <- c.releases
}

// Collect implements the prometheus.Collector interface.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, id := range c.ids {
		label := strconv.Itoa(int(id))
		ch <- prometheus.MustNewConstMetric(c.free, prometheus.GaugeValue, float64(c.pool.Free(id)), label)
		ch <- prometheus.MustNewConstMetric(c.segments, prometheus.GaugeValue, float64(c.pool.NumSegs(id)), label)
	}
	st := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(st.InUse))
	ch <- prometheus.MustNewConstMetric(c.allocs, prometheus.CounterValue, float64(st.Allocs))
	ch <- prometheus.MustNewConstMetric(c.releases, prometheus.CounterValue, float64(st.Releases))
}

// ArchiveCollector reports archive counters at scrape time.
type ArchiveCollector struct {
	status func() archive.Status

	recordings *prometheus.Desc
	uploads    *prometheus.Desc
	failures   *prometheus.Desc
	pending    *prometheus.Desc
}

// NewArchiveCollector creates a collector reading status on every scrape.
func NewArchiveCollector(status func() archive.Status) *ArchiveCollector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "archive", n) }
	return &ArchiveCollector{
		status:     status,
		recordings: prometheus.NewDesc(name("recordings_total"), "Total number of finished recordings", nil, nil),
		uploads:    prometheus.NewDesc(name("uploads_total"), "Total number of completed uploads", nil, nil),
		failures:   prometheus.NewDesc(name("upload_failures_total"), "Total number of failed upload attempts", nil, nil),
		pending:    prometheus.NewDesc(name("pending_retries"), "Uploads waiting for a retry", nil, nil),
	}
}

// Describe implements the prometheus.Collector interface.
func (c *ArchiveCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.recordings
	ch <- c.uploads
	ch <- c.failures
	ch <- c.pending
}

// Collect implements the prometheus.Collector interface.
func (c *ArchiveCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.status()
	ch <- prometheus.MustNewConstMetric(c.recordings, prometheus.CounterValue, float64(st.Recordings))
	ch <- prometheus.MustNewConstMetric(c.uploads, prometheus.CounterValue, float64(st.Uploaded))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(st.UploadFailures))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(st.PendingRetries))
}

// Handler serves the registry in the Prometheus text format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
