package consumer

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visit_sync",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Kafka messages committed, by topic, event type and outcome (handled, failed, undecodable).",
	}, []string{"topic", "event_type", "outcome"})

	notificationsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visit_sync",
		Subsystem: "consumer",
		Name:      "notifications_sent_total",
		Help:      "Number of supervisor notifications delivered, by event type.",
	}, []string{"event_type"})

	summariesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "visit_sync",
		Subsystem: "consumer",
		Name:      "summaries_stored_total",
		Help:      "Number of AI visit summaries written back to canonical storage.",
	})

	collaboratorErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visit_sync",
		Subsystem: "consumer",
		Name:      "collaborator_errors_total",
		Help:      "Number of failed calls to external collaborators.",
	}, []string{"collaborator"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "visit_sync",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesCounter, notificationsCounter, summariesCounter, collaboratorErrorCounter, lastMessageGauge)
}

const (
	outcomeHandled     = "handled"
	outcomeFailed      = "failed"
	outcomeUndecodable = "undecodable"
)

func recordMessage(msg Message, outcome string) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, outcome).Inc()
	if outcome == outcomeHandled && !msg.Timestamp.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordNotificationSent(eventType string) {
	notificationsCounter.WithLabelValues(eventType).Inc()
}

func recordSummaryStored() {
	summariesCounter.Inc()
}

func recordCollaboratorError(name string) {
	collaboratorErrorCounter.WithLabelValues(name).Inc()
}
