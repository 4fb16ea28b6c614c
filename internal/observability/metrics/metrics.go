package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for availability, booking and approval flows.
type SchedulingMetrics struct {
	bookingsTotal        *prometheus.CounterVec
	slotConflictsTotal   *prometheus.CounterVec
	approvalDecisions    *prometheus.CounterVec
	escalationsTotal     *prometheus.CounterVec
	remindersTotal       *prometheus.CounterVec
	notificationsTotal   *prometheus.CounterVec
	availabilityLatency  *prometheus.HistogramVec
	sweepDurationSeconds *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharma",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		slotConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharma",
			Subsystem: "availability",
			Name:      "conflicts_total",
			Help:      "Real-time conflicts detected by severity",
		}, []string{"severity"}),
		approvalDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharma",
			Subsystem: "approval",
			Name:      "decisions_total",
			Help:      "Approval decisions by decision type",
		}, []string{"decision"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharma",
			Subsystem: "approval",
			Name:      "escalations_total",
			Help:      "Approval stage escalations by trigger",
		}, []string{"trigger"}),
		remindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharma",
			Subsystem: "approval",
			Name:      "reminders_total",
			Help:      "Approval reminders sent",
		}, []string{"status"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharma",
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Notifications dispatched by type and status",
		}, []string{"type", "status"}),
		availabilityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pharma",
			Subsystem: "availability",
			Name:      "computation_seconds",
			Help:      "Latency of availability report computation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cache"}),
		sweepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pharma",
			Subsystem: "worker",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of background sweeps",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.slotConflictsTotal, m.approvalDecisions, m.escalationsTotal,
		m.remindersTotal, m.notificationsTotal, m.availabilityLatency, m.sweepDurationSeconds)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(operation string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.bookingsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveConflict(severity string) {
	if m == nil {
		return
	}
	m.slotConflictsTotal.WithLabelValues(severity).Inc()
}

func (m *SchedulingMetrics) ObserveDecision(decision string) {
	if m == nil {
		return
	}
	m.approvalDecisions.WithLabelValues(decision).Inc()
}

func (m *SchedulingMetrics) ObserveEscalation(trigger string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(trigger).Inc()
}

func (m *SchedulingMetrics) ObserveReminder(status string) {
	if m == nil {
		return
	}
	m.remindersTotal.WithLabelValues(status).Inc()
}

func (m *SchedulingMetrics) ObserveNotification(notificationType, status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(notificationType, status).Inc()
}

// ObserveAvailability records report latency; cache is "hit" or "miss".
func (m *SchedulingMetrics) ObserveAvailability(cache string, seconds float64) {
	if m == nil {
		return
	}
	m.availabilityLatency.WithLabelValues(cache).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveSweep(sweep, status string, seconds float64) {
	if m == nil {
		return
	}
	m.sweepDurationSeconds.WithLabelValues(sweep, status).Observe(seconds)
}
