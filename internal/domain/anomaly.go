package domain

// Anomaly is an advisory flag attached to a completed visit.
type Anomaly string

const (
	AnomalyShortVisit Anomaly = "short-visit"
	AnomalyLongVisit  Anomaly = "long-visit"
	AnomalyGPSMissing Anomaly = "gps-missing"
)

// ShortVisitThresholdMinutes is the duration below which a visit is flagged as short.
const ShortVisitThresholdMinutes = 5

// EvaluateAnomalies computes the anomaly flags for a visit boundary. It is shared by the
// live end-visit call and the replayed check-out so both paths flag identically.
func EvaluateAnomalies(scheduledMinutes float64, durationMinutes int, end *Location) []Anomaly {
	anomalies := make([]Anomaly, 0, 3)
	if durationMinutes < ShortVisitThresholdMinutes {
		anomalies = append(anomalies, AnomalyShortVisit)
	}
	if float64(durationMinutes) > 2*scheduledMinutes {
		anomalies = append(anomalies, AnomalyLongVisit)
	}
	if !end.HasCoordinates() {
		anomalies = append(anomalies, AnomalyGPSMissing)
	}
	return anomalies
}
