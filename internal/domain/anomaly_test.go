package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateAnomalies(t *testing.T) {
	located := NewLocation(51.5, -0.12)
	lat := 51.5

	cases := []struct {
		name      string
		scheduled float64
		duration  int
		end       *Location
		want      []Anomaly
	}{
		{name: "short", scheduled: 60, duration: 4, end: located, want: []Anomaly{AnomalyShortVisit}},
		{name: "long", scheduled: 60, duration: 125, end: located, want: []Anomaly{AnomalyLongVisit}},
		{name: "on schedule", scheduled: 30, duration: 30, end: located, want: []Anomaly{}},
		{name: "no location", scheduled: 30, duration: 30, end: nil, want: []Anomaly{AnomalyGPSMissing}},
		{name: "latitude only", scheduled: 30, duration: 30, end: &Location{Latitude: &lat}, want: []Anomaly{AnomalyGPSMissing}},
		{name: "exactly twice scheduled", scheduled: 30, duration: 60, end: located, want: []Anomaly{}},
		{name: "short and missing", scheduled: 60, duration: 0, end: nil, want: []Anomaly{AnomalyShortVisit, AnomalyGPSMissing}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, EvaluateAnomalies(tc.scheduled, tc.duration, tc.end))
		})
	}
}

func TestZeroCoordinatesAreNotMissing(t *testing.T) {
	require.Empty(t, EvaluateAnomalies(30, 30, NewLocation(0, 0)))
}
