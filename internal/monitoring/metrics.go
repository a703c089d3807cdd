package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	CacheReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_cache_reloads_total",
			Help: "Total number of tenant cache reloads by status",
		},
		[]string{"status"},
	)
	ReloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenant_cache_reload_duration_seconds",
			Help:    "Duration of tenant cache reloads in seconds",
			Buckets: prometheus.LinearBuckets(0, 5, 12), // 0 to 60 seconds
		},
	)
	RemoteRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_request_duration_seconds",
			Help:    "Duration of remote table service requests by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	AuthorizationDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "authorization_denials_total",
			Help: "Total number of farmer lookups denied by the quota allow-list",
		},
	)
)

func InitMetrics() {
	err := prometheus.Register(CacheReloads)
	if err != nil {
		log.Error().Err(err).Msg("Failed to register CacheReloads metric")
	}

	err = prometheus.Register(ReloadDuration)
	if err != nil {
		log.Error().Err(err).Msg("Failed to register ReloadDuration metric")
	}

	err = prometheus.Register(RemoteRequestDuration)
	if err != nil {
		log.Error().Err(err).Msg("Failed to register RemoteRequestDuration metric")
	}

	err = prometheus.Register(AuthorizationDenials)
	if err != nil {
		log.Error().Err(err).Msg("Failed to register AuthorizationDenials metric")
	}
}
