package outbox

import "example.com/carevisits/libs/events"

const visitStartedSchema = `{
  "type": "object",
  "title": "VisitStarted",
  "properties": {
    "visit_id": {"type": "string"},
    "client_id": {"type": "string"},
    "staff_id": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"},
    "lat": {"type": "number"},
    "lng": {"type": "number"},
    "offline_record_id": {"type": "string"}
  },
  "required": ["visit_id", "client_id", "staff_id", "started_at"],
  "additionalProperties": false
}`

const visitCompletedSchema = `{
  "type": "object",
  "title": "VisitCompleted",
  "properties": {
    "visit_id": {"type": "string"},
    "client_id": {"type": "string"},
    "staff_id": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"},
    "ended_at": {"type": "string", "format": "date-time"},
    "duration_minutes": {"type": "integer"},
    "anomalies": {"type": "array", "items": {"type": "string"}},
    "tasks_completed": {"type": "integer"},
    "tasks_total": {"type": "integer"},
    "notes": {"type": "array", "items": {"type": "string"}},
    "offline_record_id": {"type": "string"}
  },
  "required": ["visit_id", "client_id", "staff_id", "started_at", "ended_at", "duration_minutes", "anomalies", "tasks_completed", "tasks_total"],
  "additionalProperties": false
}`

const visitCancelledSchema = `{
  "type": "object",
  "title": "VisitCancelled",
  "properties": {
    "visit_id": {"type": "string"},
    "staff_id": {"type": "string"},
    "reason": {"type": "string"},
    "cancelled_at": {"type": "string", "format": "date-time"}
  },
  "required": ["visit_id", "staff_id", "cancelled_at"],
  "additionalProperties": false
}`

const visitAnomaliesDetectedSchema = `{
  "type": "object",
  "title": "VisitAnomaliesDetected",
  "properties": {
    "visit_id": {"type": "string"},
    "client_id": {"type": "string"},
    "staff_id": {"type": "string"},
    "anomalies": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "detected_at": {"type": "string", "format": "date-time"}
  },
  "required": ["visit_id", "client_id", "staff_id", "anomalies", "detected_at"],
  "additionalProperties": false
}`

const conflictFlaggedSchema = `{
  "type": "object",
  "title": "OfflineConflictFlagged",
  "properties": {
    "record_id": {"type": "string"},
    "staff_id": {"type": "string"},
    "record_type": {"type": "string"},
    "visit_id": {"type": "string"},
    "kind": {"type": "string"},
    "notes": {"type": "string"},
    "flagged_at": {"type": "string", "format": "date-time"}
  },
  "required": ["record_id", "staff_id", "record_type", "kind", "notes", "flagged_at"],
  "additionalProperties": false
}`

const wellbeingRecordedSchema = `{
  "type": "object",
  "title": "WellbeingRecorded",
  "properties": {
    "check_id": {"type": "string"},
    "client_id": {"type": "string"},
    "staff_id": {"type": "string"},
    "visit_id": {"type": "string"},
    "mood": {"type": "string"},
    "hydration": {"type": "string"},
    "nutrition": {"type": "string"},
    "pain": {"type": "string"},
    "sleep": {"type": "string"},
    "notes": {"type": "string"},
    "created_at": {"type": "string", "format": "date-time"}
  },
  "required": ["check_id", "client_id", "staff_id", "created_at"],
  "additionalProperties": false
}`

const safeguardingConcernSchema = `{
  "type": "object",
  "title": "SafeguardingConcern",
  "properties": {
    "check_id": {"type": "string"},
    "client_id": {"type": "string"},
    "staff_id": {"type": "string"},
    "severity": {"type": "string"},
    "description": {"type": "string"},
    "raised_at": {"type": "string", "format": "date-time"}
  },
  "required": ["check_id", "client_id", "staff_id", "raised_at"],
  "additionalProperties": false
}`

const incidentReportedSchema = `{
  "type": "object",
  "title": "IncidentReported",
  "properties": {
    "incident_id": {"type": "string"},
    "client_id": {"type": "string"},
    "staff_id": {"type": "string"},
    "visit_id": {"type": "string"},
    "incident_type": {"type": "string"},
    "description": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["incident_id", "client_id", "staff_id", "incident_type", "description", "occurred_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeVisitStarted:           {Schema: visitStartedSchema},
	events.TypeVisitCompleted:         {Schema: visitCompletedSchema},
	events.TypeVisitCancelled:         {Schema: visitCancelledSchema},
	events.TypeVisitAnomaliesDetected: {Schema: visitAnomaliesDetectedSchema},
	events.TypeConflictFlagged:        {Schema: conflictFlaggedSchema},
	events.TypeWellbeingRecorded:      {Schema: wellbeingRecordedSchema},
	events.TypeSafeguardingConcern:    {Schema: safeguardingConcernSchema},
	events.TypeIncidentReported:       {Schema: incidentReportedSchema},
}
