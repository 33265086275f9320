package topnkv

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters BoltStore increments on each operation (the
// in-memory MemStore reports none),
// the way Erigon's kv package exposes package-level counters for db size
// and transaction counts. Callers register Metrics with their own
// prometheus.Registerer; a nil *Metrics is safe to use and simply discards
// observations.
type Metrics struct {
	puts     *prometheus.CounterVec
	gets     *prometheus.CounterVec
	deletes  *prometheus.CounterVec
	listHops *prometheus.CounterVec
}

// NewMetrics builds and registers a Metrics set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topnkv_puts_total",
			Help: "Number of Put/PutBatch values written, by column family.",
		}, []string{"cf"}),
		gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topnkv_gets_total",
			Help: "Number of GetCF/GetAsOfCF reads, by column family and hit/miss.",
		}, []string{"cf", "result"}),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topnkv_deletes_total",
			Help: "Number of tombstones written, by column family.",
		}, []string{"cf"}),
		listHops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topnkv_list_key_hops_total",
			Help: "Number of distinct logical keys visited by ListCF's key-hop scan, by column family.",
		}, []string{"cf"}),
	}
	reg.MustRegister(m.puts, m.gets, m.deletes, m.listHops)
	return m
}

func (m *Metrics) observePut(cf string, n int) {
	if m == nil {
		return
	}
	m.puts.WithLabelValues(cf).Add(float64(n))
}

func (m *Metrics) observeGet(cf string, hit bool) {
	if m == nil {
		return
	}
	result := "hit"
	if !hit {
		result = "miss"
	}
	m.gets.WithLabelValues(cf, result).Inc()
}

func (m *Metrics) observeDelete(cf string) {
	if m == nil {
		return
	}
	m.deletes.WithLabelValues(cf).Inc()
}

func (m *Metrics) observeListHops(cf string, n int) {
	if m == nil {
		return
	}
	m.listHops.WithLabelValues(cf).Add(float64(n))
}
