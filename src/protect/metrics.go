package protect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "protect",
		Name:      "gate_decisions_total",
		Help:      "Access gate outcomes by resource mode and result.",
	}, []string{"mode", "result"})

	resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "protect",
		Name:      "link_resolutions_total",
		Help:      "Link resolver outcomes.",
	}, []string{"mode", "result"})

	partialFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "protect",
		Name:      "partial_failures_total",
		Help:      "Cross-system operations that completed on one side only, by stage.",
	}, []string{"stage"})

	resourceChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "protect",
		Name:      "resource_changes_total",
		Help:      "Resources created and deleted, by mode.",
	}, []string{"mode", "op"})
)
