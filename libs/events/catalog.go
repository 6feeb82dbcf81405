package events

import "slices"

// Kafka topics carrying visit sync events.
const (
	TopicVisitEvents   = "visit_events"
	TopicOfflineEvents = "offline_events"
	TopicCareEvents    = "care_events"
)

// Route describes where an event type is published.
type Route struct {
	Topic         string
	SchemaSubject string
}

func route(topic, eventType string) Route {
	return Route{Topic: topic, SchemaSubject: topic + "-" + eventType}
}

// Catalog maps every event type to its topic and schema subject. Several event types share
// a topic, so subjects follow the topic-record naming strategy.
var Catalog = map[string]Route{
	TypeVisitStarted:           route(TopicVisitEvents, TypeVisitStarted),
	TypeVisitCompleted:         route(TopicVisitEvents, TypeVisitCompleted),
	TypeVisitCancelled:         route(TopicVisitEvents, TypeVisitCancelled),
	TypeVisitAnomaliesDetected: route(TopicVisitEvents, TypeVisitAnomaliesDetected),
	TypeConflictFlagged:        route(TopicOfflineEvents, TypeConflictFlagged),
	TypeWellbeingRecorded:      route(TopicCareEvents, TypeWellbeingRecorded),
	TypeSafeguardingConcern:    route(TopicCareEvents, TypeSafeguardingConcern),
	TypeIncidentReported:       route(TopicCareEvents, TypeIncidentReported),
}

// Topics returns the distinct topics in the catalog, sorted.
func Topics() []string {
	out := make([]string, 0, 3)
	for _, r := range Catalog {
		if !slices.Contains(out, r.Topic) {
			out = append(out, r.Topic)
		}
	}
	slices.Sort(out)
	return out
}

// Kafka header keys set on every published record. Consumers route on HeaderEventType
// without decoding the payload.
const (
	HeaderEventType     = "event_type"
	HeaderSchemaSubject = "schema_subject"
	HeaderAggregateID   = "aggregate_id"
)
