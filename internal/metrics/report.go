package metrics

import "time"

// ExportCompleted records a successful export.
func ExportCompleted(format string, duration time.Duration, size int64) {
	ExportsTotal.WithLabelValues(format, "success").Inc()
	ExportDuration.WithLabelValues(format).Observe(duration.Seconds())
	ExportBytes.WithLabelValues(format).Observe(float64(size))
}

// ExportFailed records a failed export.
func ExportFailed(format string) {
	ExportsTotal.WithLabelValues(format, "failed").Inc()
}

// RestoreRecorded records the outcome of a restore attempt.
func RestoreRecorded(status string) {
	RestoresTotal.WithLabelValues(status).Inc()
}

// FieldEdited records one report edit of the given kind.
func FieldEdited(kind string) {
	FieldEdits.WithLabelValues(kind).Inc()
}
