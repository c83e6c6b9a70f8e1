package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles the dispatch core's Prometheus metrics. Pass
// prometheus.DefaultRegisterer in the daemon; tests use a fresh registry so
// parallel packages don't collide.
type Collector struct {
	claims              *prometheus.CounterVec
	claimConflicts      prometheus.Counter
	reservationsExpired prometheus.Counter
	workGenerated       *prometheus.CounterVec
	workCompleted       *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_claims_total",
			Help: "Claim attempts by result (granted or empty).",
		}, []string{"result"}),
		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_claim_conflicts_total",
			Help: "Conditional reservation updates lost to a concurrent claimant.",
		}),
		reservationsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_reservations_expired_total",
			Help: "Reservations returned to the pool by the expiry sweep.",
		}),
		workGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_work_generated_total",
			Help: "Work items generated by type.",
		}, []string{"type"}),
		workCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_work_completed_total",
			Help: "Work items completed by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(c.claims, c.claimConflicts, c.reservationsExpired, c.workGenerated, c.workCompleted)
	return c
}

func (c *Collector) RecordClaim(granted bool) {
	if granted {
		c.claims.WithLabelValues("granted").Inc()
	} else {
		c.claims.WithLabelValues("empty").Inc()
	}
}

func (c *Collector) RecordClaimConflict() {
	c.claimConflicts.Inc()
}

func (c *Collector) RecordReservationExpired() {
	c.reservationsExpired.Inc()
}

func (c *Collector) RecordWorkGenerated(workType string) {
	c.workGenerated.WithLabelValues(workType).Inc()
}

func (c *Collector) RecordWorkCompleted(outcome string) {
	c.workCompleted.WithLabelValues(outcome).Inc()
}
