package domain

import "example.com/carevisits/libs/events"

// Event is a domain event recorded in the transactional outbox alongside the write that
// produced it.
type Event struct {
	Type          string
	AggregateType string
	AggregateID   string
	PartitionKey  string
	Payload       any
}

func visitStartedEvent(v Visit, recordID string) Event {
	payload := events.VisitStarted{
		VisitID:         v.ID,
		ClientID:        v.ClientID,
		StaffID:         v.StaffID,
		StartedAt:       *v.ActualStart,
		OfflineRecordID: recordID,
	}
	if start := v.GPSVerification.Start; start != nil {
		payload.Latitude = start.Latitude
		payload.Longitude = start.Longitude
	}
	return Event{Type: events.TypeVisitStarted, AggregateType: "visit", AggregateID: v.ID, PartitionKey: v.ID, Payload: payload}
}

func visitCompletedEvents(v Visit, c Completion, recordID string) []Event {
	completed := 0
	for _, task := range v.Tasks {
		if task.Completed {
			completed++
		}
	}
	notes := make([]string, 0, len(v.Notes))
	for _, note := range v.Notes {
		notes = append(notes, note.Text)
	}

	out := []Event{{
		Type:          events.TypeVisitCompleted,
		AggregateType: "visit",
		AggregateID:   v.ID,
		PartitionKey:  v.ID,
		Payload: events.VisitCompleted{
			VisitID:         v.ID,
			ClientID:        v.ClientID,
			StaffID:         v.StaffID,
			StartedAt:       *v.ActualStart,
			EndedAt:         *v.ActualEnd,
			DurationMinutes: c.DurationMinutes,
			Anomalies:       anomalyStrings(c.Anomalies),
			TasksCompleted:  completed,
			TasksTotal:      len(v.Tasks),
			Notes:           notes,
			OfflineRecordID: recordID,
		},
	}}

	if len(c.Anomalies) > 0 {
		out = append(out, Event{
			Type:          events.TypeVisitAnomaliesDetected,
			AggregateType: "visit",
			AggregateID:   v.ID,
			PartitionKey:  v.ID,
			Payload: events.VisitAnomaliesDetected{
				VisitID:    v.ID,
				ClientID:   v.ClientID,
				StaffID:    v.StaffID,
				Anomalies:  anomalyStrings(c.Anomalies),
				DetectedAt: *v.ActualEnd,
			},
		})
	}
	return out
}

func visitCancelledEvent(v Visit) Event {
	return Event{
		Type:          events.TypeVisitCancelled,
		AggregateType: "visit",
		AggregateID:   v.ID,
		PartitionKey:  v.ID,
		Payload: events.VisitCancelled{
			VisitID:     v.ID,
			StaffID:     v.StaffID,
			Reason:      v.CancelReason,
			CancelledAt: v.LastModifiedAt,
		},
	}
}

// ConflictFlaggedEvent builds the notification event for a record parked for review.
func ConflictFlaggedEvent(rec OfflineRecord, flag ConflictFlag) Event {
	return Event{
		Type:          events.TypeConflictFlagged,
		AggregateType: "offline_record",
		AggregateID:   rec.ID,
		PartitionKey:  rec.StaffID,
		Payload: events.ConflictFlagged{
			RecordID:   rec.ID,
			StaffID:    rec.StaffID,
			RecordType: string(rec.Type),
			VisitID:    flag.VisitID,
			Kind:       string(flag.Kind),
			Notes:      flag.Notes,
			FlaggedAt:  flag.At,
		},
	}
}

// WellbeingEvents builds the events emitted for a stored wellbeing check.
func WellbeingEvents(check WellbeingCheck) []Event {
	out := []Event{{
		Type:          events.TypeWellbeingRecorded,
		AggregateType: "wellbeing_check",
		AggregateID:   check.ID,
		PartitionKey:  check.ClientID,
		Payload: events.WellbeingRecorded{
			CheckID:   check.ID,
			ClientID:  check.ClientID,
			StaffID:   check.StaffID,
			VisitID:   check.VisitID,
			Mood:      check.Mood,
			Hydration: check.Hydration,
			Nutrition: check.Nutrition,
			Pain:      check.Pain,
			Sleep:     check.Sleep,
			Notes:     check.Notes,
			CreatedAt: check.CreatedAt,
		},
	}}
	if check.Safeguarding.IsConcern {
		out = append(out, Event{
			Type:          events.TypeSafeguardingConcern,
			AggregateType: "wellbeing_check",
			AggregateID:   check.ID,
			PartitionKey:  check.ClientID,
			Payload: events.SafeguardingConcern{
				CheckID:     check.ID,
				ClientID:    check.ClientID,
				StaffID:     check.StaffID,
				Severity:    check.Safeguarding.Severity,
				Description: check.Safeguarding.Description,
				RaisedAt:    check.CreatedAt,
			},
		})
	}
	return out
}

// IncidentReportedEvent builds the notification event for a new incident.
func IncidentReportedEvent(incident Incident) Event {
	return Event{
		Type:          events.TypeIncidentReported,
		AggregateType: "incident",
		AggregateID:   incident.ID,
		PartitionKey:  incident.ClientID,
		Payload: events.IncidentReported{
			IncidentID:   incident.ID,
			ClientID:     incident.ClientID,
			StaffID:      incident.StaffID,
			VisitID:      incident.VisitID,
			IncidentType: incident.IncidentType,
			Description:  incident.Description,
			OccurredAt:   incident.OccurredAt,
		},
	}
}

func anomalyStrings(in []Anomaly) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		out = append(out, string(a))
	}
	return out
}
