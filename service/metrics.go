package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// resolutionsTotal counts link-status resolutions by outcome
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartlink_resolutions_total",
		Help: "Link-status resolutions by result",
	}, []string{"result"})

	// mintsTotal counts identity assertion exchanges by outcome
	mintsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartlink_mints_total",
		Help: "Session mint attempts by result",
	}, []string{"result"})

	invalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartlink_invalidations_total",
		Help: "Invalidation signals by whether they changed state",
	}, []string{"effect"})

	// lateResponsesTotal counts backend answers dropped because the linker moved on
	lateResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartlink_late_responses_total",
		Help: "Backend responses ignored after deactivation or a newer generation",
	})
)
