package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the bot's Prometheus counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	replies       *prometheus.CounterVec
	sendFailures  prometheus.Counter
	storeFailures prometheus.Counter
	llmRequests   *prometheus.CounterVec
	mediaFetches  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		replies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "salesbot_replies_total",
			Help: "Replies produced by the webhook router, by route.",
		}, []string{"route"}),
		sendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "salesbot_send_failures_total",
			Help: "Outbound WhatsApp messages that failed after all retries.",
		}),
		storeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "salesbot_conversation_store_failures_total",
			Help: "Conversation log writes that were rolled back.",
		}),
		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "salesbot_llm_requests_total",
			Help: "Language model calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		mediaFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "salesbot_media_fetches_total",
			Help: "Inbound media downloads by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveReply(route string) {
	if m != nil {
		m.replies.WithLabelValues(route).Inc()
	}
}

func (m *Metrics) SendFailed() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

func (m *Metrics) StoreFailed() {
	if m != nil {
		m.storeFailures.Inc()
	}
}

func (m *Metrics) ObserveLLM(operation string, err error) {
	if m != nil {
		m.llmRequests.WithLabelValues(operation, outcome(err)).Inc()
	}
}

func (m *Metrics) ObserveMediaFetch(err error) {
	if m != nil {
		m.mediaFetches.WithLabelValues(outcome(err)).Inc()
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
