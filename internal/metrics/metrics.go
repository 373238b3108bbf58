package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the pipeline collectors. It is written as a node_exporter
// textfile after each run since the pipeline is not a long-lived server.
var Registry = prometheus.NewRegistry()

var (
	EventsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "usagestats_events_fetched_total", Help: "Booking events read from calendar sources"},
		[]string{"instrument"},
	)
	EventsInserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "usagestats_events_inserted_total", Help: "Booking events newly stored"},
		[]string{"instrument"},
	)
	EventsDuplicate = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "usagestats_events_duplicate_total", Help: "Booking events already present in the store"},
		[]string{"instrument"},
	)
	EventsMalformed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "usagestats_events_malformed_total", Help: "Booking events rejected as malformed"},
		[]string{"instrument"},
	)
	SourceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "usagestats_source_failures_total", Help: "Calendar sources that could not be read"},
		[]string{"instrument"},
	)
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "usagestats_runs_total", Help: "Ingestion runs by completion status"},
		[]string{"status"},
	)
	UnknownIdentities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "usagestats_unknown_identities", Help: "Identities resolved to Unknown in the last run"},
		[]string{"kind"},
	)
	LastRunDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "usagestats_last_run_duration_seconds", Help: "Wall time of the last ingestion run"},
	)
	LastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "usagestats_last_run_timestamp_seconds", Help: "Unix time the last ingestion run finished"},
	)
)

var once sync.Once

func Register() {
	once.Do(func() {
		Registry.MustRegister(
			EventsFetched, EventsInserted, EventsDuplicate, EventsMalformed,
			SourceFailures, Runs, UnknownIdentities, LastRunDuration, LastRunTimestamp,
		)
	})
}

// WriteTextfile dumps the registry in the text exposition format. An empty
// path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	Register()
	return prometheus.WriteToTextfile(path, Registry)
}
