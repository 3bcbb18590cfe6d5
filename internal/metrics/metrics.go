// Package metrics holds the Prometheus collectors of the tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FixesAcquired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greta_fixes_acquired_total",
		Help: "Total number of positioning fixes appended to a track",
	})

	FixesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greta_fixes_skipped_total",
		Help: "Total number of positioning fixes skipped by reason",
	}, []string{"reason"})

	AcquisitionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greta_acquisition_errors_total",
		Help: "Total number of positioning provider errors",
	})

	TracksStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greta_tracks_started_total",
		Help: "Total number of track sessions created",
	})

	TracksFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greta_tracks_finalized_total",
		Help: "Total number of track sessions finalized",
	})

	ChannelPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greta_channel_publishes_total",
		Help: "Total number of values published per observable channel",
	}, []string{"channel"})

	ActiveSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "greta_channel_subscriptions",
		Help: "Number of observers attached per observable channel",
	}, []string{"channel"})

	BindingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greta_binding_transitions_total",
		Help: "Total number of producer binding state transitions",
	}, []string{"from", "to"})

	PresenceUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greta_presence_users",
		Help: "Number of other users with a known live position",
	})

	ArchiveSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greta_archive_saves_total",
		Help: "Total number of finalized tracks handed to the archive by backend and result",
	}, []string{"backend", "result"})
)

// Skip reasons for FixesSkipped.
const (
	SkipNoFix   = "no_fix"
	SkipInvalid = "invalid"
	SkipStale   = "stale"
)

// IncFixSkipped records a skipped fix for the given reason.
func IncFixSkipped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	FixesSkipped.WithLabelValues(reason).Inc()
}

// IncArchiveSave records an archive attempt.
func IncArchiveSave(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ArchiveSaves.WithLabelValues(backend, result).Inc()
}
