package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "standup"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	turnPanics   prometheus.Counter

	sendsTotal   *prometheus.CounterVec
	sendRetries  *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec

	rosterLookups *prometheus.CounterVec
	rosterPages   prometheus.Counter

	storeDuration *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec

	scrumTransitions *prometheus.CounterVec
	runningSessions  prometheus.Gauge
	rosterEntries    prometheus.Gauge

	ingressRequests *prometheus.CounterVec
	ingressDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "queue_size",
					Help:      "Pending turns per conversation lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "enqueue_total",
					Help:      "Total turns enqueued.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "dequeue_total",
					Help:      "Total turns finished by status.",
				},
				[]string{"status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "task_duration_seconds",
					Help:      "Time a turn spent executing on its lane.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "turns_total",
					Help:      "Turns handled by event kind and outcome.",
				},
				[]string{"kind", "outcome"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "turn_duration_seconds",
					Help:      "Turn duration by event kind.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"kind"},
			),
			turnPanics: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "turn_panics_total",
					Help:      "Turns that panicked and were recovered.",
				},
			),
			sendsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "sends_total",
					Help:      "Outbound messenger calls by operation and status.",
				},
				[]string{"op", "status"},
			),
			sendRetries: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "send_retries_total",
					Help:      "Retries caused by throttling, by operation.",
				},
				[]string{"op"},
			),
			sendDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "send_duration_seconds",
					Help:      "Outbound call duration including retries.",
					Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
				},
				[]string{"op"},
			),
			rosterLookups: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "roster_lookups_total",
					Help:      "Member directory lookups by purpose and result (hit/miss/error).",
				},
				[]string{"purpose", "result"},
			),
			rosterPages: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "roster_pages_fetched_total",
					Help:      "Member list pages fetched from transports.",
				},
			),
			storeDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "store_duration_seconds",
					Help:      "Session store call duration by engine and operation.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"engine", "op"},
			),
			storeErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "store_errors_total",
					Help:      "Session store failures by engine and operation.",
				},
				[]string{"engine", "op"},
			),
			scrumTransitions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "scrum_transitions_total",
					Help:      "Committed scrum state transitions.",
				},
				[]string{"transition"},
			),
		}

		m.runningSessions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "running_sessions",
				Help:      "Scrum sessions currently running.",
			},
		)
		m.rosterEntries = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "roster_cache_entries",
				Help:      "Cached member lists across all channels.",
			},
		)
		m.ingressRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingress_requests_total",
				Help:      "Inbound activities by channel and HTTP status.",
			},
			[]string{"channel", "code"},
		)
		m.ingressDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingress_request_duration_seconds",
				Help:      "Time to answer an inbound activity.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"channel"},
		)

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.turnsTotal,
			m.turnDuration,
			m.turnPanics,
			m.sendsTotal,
			m.sendRetries,
			m.sendDuration,
			m.rosterLookups,
			m.rosterPages,
			m.storeDuration,
			m.storeErrors,
			m.scrumTransitions,
			m.runningSessions,
			m.rosterEntries,
			m.ingressRequests,
			m.ingressDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordQueueEnqueue tracks a turn entering a conversation lane.
func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// SetQueueSize sets the pending count of a lane.
func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// ForgetLane drops the per-lane series once a lane is idle and removed.
func ForgetLane(lane string) {
	m := getMetrics()
	m.queueSize.DeleteLabelValues(lane)
	m.enqueueTotal.DeleteLabelValues(lane)
}

// RecordQueueCompletion tracks a finished turn.
func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	s := status(success)
	m.dequeueTotal.WithLabelValues(s).Inc()
	m.taskDuration.WithLabelValues(s).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// RecordTurn tracks one dispatched event.
func RecordTurn(kind, outcome string, duration time.Duration) {
	m := getMetrics()
	m.turnsTotal.WithLabelValues(kind, outcome).Inc()
	m.turnDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordTurnPanic counts a recovered panic.
func RecordTurnPanic() {
	getMetrics().turnPanics.Inc()
}

// RecordSend tracks one outbound messenger operation after retries.
func RecordSend(op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.sendsTotal.WithLabelValues(op, status(success)).Inc()
	m.sendDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSendRetry counts a throttling retry.
func RecordSendRetry(op string) {
	getMetrics().sendRetries.WithLabelValues(op).Inc()
}

// RecordRosterLookup tracks a member directory lookup.
func RecordRosterLookup(purpose, result string) {
	getMetrics().rosterLookups.WithLabelValues(purpose, result).Inc()
}

// RecordRosterPage counts a fetched member page.
func RecordRosterPage() {
	getMetrics().rosterPages.Inc()
}

// RecordStoreOp tracks a session store call.
func RecordStoreOp(engine, op string, duration time.Duration, err error) {
	m := getMetrics()
	m.storeDuration.WithLabelValues(engine, op).Observe(duration.Seconds())
	if err != nil {
		m.storeErrors.WithLabelValues(engine, op).Inc()
	}
}

// RecordScrumTransition counts a committed transition (started, updated, completed).
func RecordScrumTransition(transition string) {
	getMetrics().scrumTransitions.WithLabelValues(transition).Inc()
}

// RecordIngressRequest tracks one inbound HTTP activity.
func RecordIngressRequest(channel string, code int, duration time.Duration) {
	m := getMetrics()
	m.ingressRequests.WithLabelValues(channel, strconv.Itoa(code)).Inc()
	m.ingressDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// SetRunningSessions publishes the number of running sessions.
func SetRunningSessions(n int) {
	getMetrics().runningSessions.Set(float64(n))
}

// SetRosterEntries publishes the roster cache size.
func SetRosterEntries(n int) {
	getMetrics().rosterEntries.Set(float64(n))
}
