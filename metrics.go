package sessionx

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts session events. A nil *Metrics records nothing.
type Metrics struct {
	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	replays   *prometheus.CounterVec
	waiters   prometheus.Counter
	logouts   prometheus.Counter
}

// NewMetrics registers the session collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "printeasy_session_logins_total",
			Help: "Login attempts by result code.",
		}, []string{"result"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "printeasy_session_refreshes_total",
			Help: "Remote token refresh calls by result code.",
		}, []string{"result"}),
		replays: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "printeasy_session_replays_total",
			Help: "Requests replayed after a 401, by result.",
		}, []string{"result"}),
		waiters: factory.NewCounter(prometheus.CounterOpts{
			Name: "printeasy_session_refresh_waiters_total",
			Help: "Callers that joined an in-flight refresh instead of starting one.",
		}),
		logouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "printeasy_session_logouts_total",
			Help: "Sessions ended by logout or failed refresh.",
		}),
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if code := CodeOf(err); code != "" {
		return string(code)
	}
	return string(ErrCodeInternal)
}

func (m *Metrics) login(err error) {
	if m != nil {
		m.logins.WithLabelValues(resultLabel(err)).Inc()
	}
}

func (m *Metrics) refresh(err error) {
	if m != nil {
		m.refreshes.WithLabelValues(resultLabel(err)).Inc()
	}
}

func (m *Metrics) replay(err error) {
	if m != nil {
		m.replays.WithLabelValues(resultLabel(err)).Inc()
	}
}

func (m *Metrics) waiter() {
	if m != nil {
		m.waiters.Inc()
	}
}

func (m *Metrics) logout() {
	if m != nil {
		m.logouts.Inc()
	}
}
