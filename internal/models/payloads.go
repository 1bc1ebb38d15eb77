package models

// These structs define the JSON payloads exchanged between the Cloud Workflow,
// the orchestrator function and the on-demand functions.

// GCSEvent is the data payload of a storage object-finalized CloudEvent.
type GCSEvent struct {
	Bucket      string            `json:"bucket"`
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Generation  string            `json:"generation"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ExecutionRequest is the argument of one workflow execution. It is passed
// verbatim to the orchestrator function.
type ExecutionRequest struct {
	DocumentID     string `json:"documentId"`
	UserID         string `json:"userId"`
	ChildID        string `json:"childId,omitempty"`
	ExecutionID    string `json:"executionId"`
	SourceLocation string `json:"sourceLocation"`
	ContentType    string `json:"contentType,omitempty"`
}

// ExecutionResponse is returned by the orchestrator function once the
// execution reached a terminal state.
type ExecutionResponse struct {
	Status         string    `json:"status"`
	DocumentStatus Status    `json:"documentStatus"`
	ErrorKind      ErrorKind `json:"errorKind,omitempty"`
}

// StageRequest is the minimal context handed to a stage function. Upstream
// artifacts are read through the datastore facade by DocumentID.
type StageRequest struct {
	DocumentID     string `json:"documentId"`
	ExecutionID    string `json:"executionId"`
	SourceLocation string `json:"sourceLocation,omitempty"`
	ContentType    string `json:"contentType,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

// MissingInfoRequest is the input of the on-demand missing-info function.
type MissingInfoRequest struct {
	DocumentID string `json:"documentId"`
}

// MissingInfoResponse is the output of the on-demand missing-info function.
type MissingInfoResponse struct {
	Status       string    `json:"status"`
	FindingCount int       `json:"findingCount"`
	Findings     []Finding `json:"findings"`
}

// ReaperResponse is the output of the execution reaper.
type ReaperResponse struct {
	Status         string `json:"status"`
	Expired        int    `json:"expired"`
	SourcesDeleted int    `json:"sourcesDeleted"`
}
