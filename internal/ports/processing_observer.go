package ports

// ProcessingObserver defines the interface for observing processing results.
// Used to track metrics for all processed rows, not just alerts.
type ProcessingObserver interface {
	// IncrementRowsProcessedByResult records the outcome of one row.
	//
	// Parameters:
	//   - result: The classification of the row ("normal", "anomalous", "dropped")
	//
	// Thread Safety: Implementations MUST be safe for concurrent calls.
	IncrementRowsProcessedByResult(result string)
}
