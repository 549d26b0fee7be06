package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	SamplesReceived     atomic.Int64
	SamplesCommitted    atomic.Int64
	SamplesInvalid      atomic.Int64
	SamplesTooSoon      atomic.Int64
	SamplesStale        atomic.Int64
	SampleConflicts     atomic.Int64
	TimestampNudges     atomic.Int64
	PersistenceFailures atomic.Int64

	CacheHits   atomic.Int64
	CacheMisses atomic.Int64
	CacheErrors atomic.Int64

	AlertsEmitted        atomic.Int64
	AlertWriteFailures   atomic.Int64
	AlertChannelDrops    atomic.Int64
	AlertPublishFailures atomic.Int64

	SweepsCompleted  atomic.Int64
	DevicesPolled    atomic.Int64
	DevicesSkipped   atomic.Int64
	UpstreamFailures atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "tracker_samples_received_total %d\n", SamplesReceived.Load())
	fmt.Fprintf(w, "tracker_samples_committed_total %d\n", SamplesCommitted.Load())
	fmt.Fprintf(w, "tracker_samples_invalid_total %d\n", SamplesInvalid.Load())
	fmt.Fprintf(w, "tracker_samples_too_soon_total %d\n", SamplesTooSoon.Load())
	fmt.Fprintf(w, "tracker_samples_stale_total %d\n", SamplesStale.Load())
	fmt.Fprintf(w, "tracker_sample_conflicts_total %d\n", SampleConflicts.Load())
	fmt.Fprintf(w, "tracker_timestamp_nudges_total %d\n", TimestampNudges.Load())
	fmt.Fprintf(w, "tracker_persistence_failures_total %d\n", PersistenceFailures.Load())
	fmt.Fprintf(w, "tracker_cache_hits_total %d\n", CacheHits.Load())
	fmt.Fprintf(w, "tracker_cache_misses_total %d\n", CacheMisses.Load())
	fmt.Fprintf(w, "tracker_cache_errors_total %d\n", CacheErrors.Load())
	fmt.Fprintf(w, "tracker_alerts_emitted_total %d\n", AlertsEmitted.Load())
	fmt.Fprintf(w, "tracker_alert_write_failures_total %d\n", AlertWriteFailures.Load())
	fmt.Fprintf(w, "tracker_alert_channel_drops_total %d\n", AlertChannelDrops.Load())
	fmt.Fprintf(w, "tracker_alert_publish_failures_total %d\n", AlertPublishFailures.Load())
	fmt.Fprintf(w, "tracker_sweeps_completed_total %d\n", SweepsCompleted.Load())
	fmt.Fprintf(w, "tracker_devices_polled_total %d\n", DevicesPolled.Load())
	fmt.Fprintf(w, "tracker_devices_skipped_total %d\n", DevicesSkipped.Load())
	fmt.Fprintf(w, "tracker_upstream_failures_total %d\n", UpstreamFailures.Load())
}
