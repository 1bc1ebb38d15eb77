package models

// Status is the wire-visible lifecycle state of a document.
type Status string

// Document statuses. PROCESSING_TRANSLATIONS means the English content is
// final and safe to display while translations are still being produced.
const (
	StatusProcessing             Status = "PROCESSING"
	StatusProcessingTranslations Status = "PROCESSING_TRANSLATIONS"
	StatusProcessed              Status = "PROCESSED"
	StatusFailed                 Status = "FAILED"
)

func (s Status) rank() int {
	switch s {
	case StatusProcessing:
		return 1
	case StatusProcessingTranslations:
		return 2
	case StatusProcessed:
		return 3
	case StatusFailed:
		return 4
	}
	return 0
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s.rank() > 0
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// CanTransition reports whether a document in status from may move to status to.
// Re-committing a non-terminal status is allowed so retried stages stay
// idempotent. Terminal statuses are final, so a late FAILED cannot replace the
// failure already recorded. FAILED is reachable from every non-terminal status.
func CanTransition(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return !from.Terminal()
	}
	if from == "" {
		return to == StatusProcessing
	}
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return to.rank() > from.rank()
}
