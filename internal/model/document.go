package model

// IndexAction is the action line preceding each document in a bulk body.
type IndexAction struct {
	Index IndexTarget `json:"index"`
}

// IndexTarget names where a document is written.
type IndexTarget struct {
	Index string `json:"_index"`
	Type  string `json:"_type"`
	ID    string `json:"_id"`
}

// Document is the indexed payload. Keys beginning with "@" are reserved.
type Document map[string]any

// Reserved document keys.
const (
	FieldID        = "@id"
	FieldTimestamp = "@timestamp"
	FieldMessage   = "@message"
	FieldOwner     = "@owner"
	FieldLogGroup  = "@log_group"
	FieldLogStream = "@log_stream"
	FieldRequestID = "@request_id"
)

// Pair is one log entry's contribution to a bulk body.
type Pair struct {
	Action   IndexAction
	Document Document
}
