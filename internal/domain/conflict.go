package domain

import (
	"fmt"
	"time"
)

// ConflictKind classifies how a replayed mutation relates to canonical state.
type ConflictKind string

const (
	ConflictKindNone   ConflictKind = "none"
	ConflictOverlap    ConflictKind = "overlap"
	ConflictStaleWrite ConflictKind = "stale-write"
)

// MutationKind names the visit field group an offline mutation touches.
type MutationKind string

const (
	MutationStart    MutationKind = "start"
	MutationEnd      MutationKind = "end"
	MutationFields   MutationKind = "fields"
	MutationAdditive MutationKind = "additive"
)

// Mutation describes an offline-origin change to a visit.
type Mutation struct {
	Kind MutationKind
	// At is the effective time of the transition (clock-in or clock-out time).
	At              time.Time
	DeviceTimestamp time.Time
	// BaseRevision is the visit revision the device last saw, when it reported one.
	BaseRevision *int64
	// Status is the target status for field mutations, if any.
	Status VisitStatus
}

// Conflict is the detector's verdict.
type Conflict struct {
	Kind  ConflictKind
	Notes string
	// Satisfied is set when canonical state already reflects the mutation exactly.
	Satisfied bool
}

// Detected reports whether the mutation must be deferred to manual review.
func (c Conflict) Detected() bool {
	return c.Kind != ConflictKindNone && c.Kind != ""
}

// DetectConflict compares an offline mutation against the current canonical visit. Additive
// mutations never conflict. Field-level conflicts are reported, never resolved here.
func DetectConflict(v Visit, m Mutation, skew time.Duration) Conflict {
	if m.Kind == MutationAdditive {
		return Conflict{Kind: ConflictKindNone}
	}

	switch m.Kind {
	case MutationStart:
		if v.ActualStart != nil {
			if v.ActualStart.Equal(m.At) {
				return Conflict{Kind: ConflictKindNone, Satisfied: true}
			}
			return overlap("actualStart", formatTime(*v.ActualStart), formatTime(m.At))
		}
		if v.Status.Terminal() {
			return overlap("status", string(v.Status), string(VisitInProgress))
		}
	case MutationEnd:
		if v.ActualEnd != nil {
			if v.ActualEnd.Equal(m.At) {
				return Conflict{Kind: ConflictKindNone, Satisfied: true}
			}
			return overlap("actualEnd", formatTime(*v.ActualEnd), formatTime(m.At))
		}
		if v.Status == VisitCancelled || v.Status == VisitMissed {
			return overlap("status", string(v.Status), string(VisitCompleted))
		}
		if v.ActualStart != nil && m.At.Before(*v.ActualStart) {
			return overlap("actualEnd precedes actualStart", formatTime(*v.ActualStart), formatTime(m.At))
		}
	case MutationFields:
		if m.BaseRevision != nil && *m.BaseRevision != v.Revision {
			return overlap("revision", fmt.Sprintf("%d", v.Revision), fmt.Sprintf("%d", *m.BaseRevision))
		}
		if m.Status != "" && m.Status != v.Status && v.Status.Terminal() {
			return overlap("status", string(v.Status), string(m.Status))
		}
	}

	if !v.LastModifiedAt.IsZero() && m.DeviceTimestamp.Before(v.LastModifiedAt.Add(-skew)) {
		return Conflict{
			Kind: ConflictStaleWrite,
			Notes: fmt.Sprintf("stale-write: device timestamp %s precedes canonical last modification %s by more than %s",
				formatTime(m.DeviceTimestamp), formatTime(v.LastModifiedAt), skew),
		}
	}
	return Conflict{Kind: ConflictKindNone}
}

func overlap(field, canonical, offline string) Conflict {
	return Conflict{
		Kind:  ConflictOverlap,
		Notes: fmt.Sprintf("overlap on %s: canonical=%s offline=%s", field, canonical, offline),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
