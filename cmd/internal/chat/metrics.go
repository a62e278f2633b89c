package chat

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the engine's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	messagesAppended *prometheus.CounterVec
	roomsCreated     prometheus.Counter
	roomsDeleted     prometheus.Counter
	pagesLoaded      prometheus.Counter
	repliesDiscarded prometheus.Counter
	typingActive     prometheus.Gauge
	rooms            prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messagesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_messages_appended_total",
			Help: "Messages appended to rooms, materialized or not.",
		}, []string{"sender", "kind"}),
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_rooms_created_total",
			Help: "Rooms created.",
		}),
		roomsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_rooms_deleted_total",
			Help: "Rooms deleted.",
		}),
		pagesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_pages_loaded_total",
			Help: "History pages materialized, activation pages included.",
		}),
		repliesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_replies_discarded_total",
			Help: "Assistant replies dropped because their room was deleted.",
		}),
		typingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parley_typing_cycles_active",
			Help: "Reply cycles currently in the typing phase.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parley_rooms",
			Help: "Rooms in the directory.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.messagesAppended, m.roomsCreated, m.roomsDeleted, m.pagesLoaded,
			m.repliesDiscarded, m.typingActive, m.rooms,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) messageAppended(msg Message) {
	if m == nil {
		return
	}
	m.messagesAppended.WithLabelValues(string(msg.Sender), string(msg.Kind)).Inc()
}

func (m *Metrics) roomCreated(total int) {
	if m == nil {
		return
	}
	m.roomsCreated.Inc()
	m.rooms.Set(float64(total))
}

func (m *Metrics) roomDeleted(total int) {
	if m == nil {
		return
	}
	m.roomsDeleted.Inc()
	m.rooms.Set(float64(total))
}

func (m *Metrics) roomsRestored(total int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(total))
}

func (m *Metrics) pageLoaded() {
	if m == nil {
		return
	}
	m.pagesLoaded.Inc()
}

func (m *Metrics) replyDiscarded() {
	if m == nil {
		return
	}
	m.repliesDiscarded.Inc()
}

func (m *Metrics) typingCycles(n int) {
	if m == nil {
		return
	}
	m.typingActive.Set(float64(n))
}
