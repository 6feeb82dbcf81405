package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordsAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visit_sync",
		Subsystem: "offline",
		Name:      "records_accepted_total",
		Help:      "Offline records accepted into the staging store, by record type.",
	}, []string{"type"})
	recordsReplayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visit_sync",
		Subsystem: "replay",
		Name:      "records_total",
		Help:      "Offline records replayed, by record type and outcome.",
	}, []string{"type", "outcome"})
	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "visit_sync",
		Subsystem: "replay",
		Name:      "sync_duration_seconds",
		Help:      "Duration of a single staff sync pass.",
		Buckets:   prometheus.DefBuckets,
	})
	conflictsFlagged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visit_sync",
		Subsystem: "replay",
		Name:      "conflicts_total",
		Help:      "Offline records parked for manual review, by conflict kind.",
	}, []string{"kind"})
	anomaliesDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visit_sync",
		Subsystem: "visits",
		Name:      "anomalies_total",
		Help:      "Anomaly flags raised on completed visits.",
	}, []string{"anomaly"})
	lastSyncedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "visit_sync",
		Subsystem: "replay",
		Name:      "last_record_synced_timestamp_seconds",
		Help:      "Unix timestamp of the most recent offline record marked synced.",
	})
)

func init() {
	prometheus.MustRegister(recordsAccepted, recordsReplayed, syncDuration, conflictsFlagged, anomaliesDetected, lastSyncedGauge)
}

// RecordAccepted counts a staged offline record.
func RecordAccepted(recordType string) {
	recordsAccepted.WithLabelValues(recordType).Inc()
}

// RecordReplayed counts a replay attempt with its outcome.
func RecordReplayed(recordType, outcome string) {
	recordsReplayed.WithLabelValues(recordType, outcome).Inc()
}

// ObserveSync records how long a sync pass took.
func ObserveSync(d time.Duration) {
	syncDuration.Observe(d.Seconds())
}

// RecordConflict counts a record parked for review.
func RecordConflict(kind string) {
	conflictsFlagged.WithLabelValues(kind).Inc()
}

// RecordAnomaly counts an anomaly flag.
func RecordAnomaly(anomaly string) {
	anomaliesDetected.WithLabelValues(anomaly).Inc()
}

// RecordSynced updates the synced watermark gauge.
func RecordSynced(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncedGauge.Set(float64(ts.Unix()))
}
