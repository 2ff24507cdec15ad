package model

// MessageType distinguishes data batches from subscription heartbeats.
type MessageType string

const (
	MessageTypeData    MessageType = "DATA_MESSAGE"
	MessageTypeControl MessageType = "CONTROL_MESSAGE"
)

// Envelope is a decoded CloudWatch Logs subscription batch.
type Envelope struct {
	MessageType         MessageType `json:"messageType"`
	Owner               string      `json:"owner"`
	LogGroup            string      `json:"logGroup"`
	LogStream           string      `json:"logStream"`
	SubscriptionFilters []string    `json:"subscriptionFilters,omitempty"`
	LogEvents           []LogEntry  `json:"logEvents"`
}

// IsControl reports whether the envelope is a heartbeat carrying no events.
func (e *Envelope) IsControl() bool {
	return e.MessageType == MessageTypeControl
}

// LogEntry is one log event inside an Envelope. Timestamp is epoch
// milliseconds. ExtractedFields is only set when the subscription filter
// used a space-delimited or JSON pattern.
type LogEntry struct {
	ID              string            `json:"id"`
	Timestamp       int64             `json:"timestamp"`
	Message         string            `json:"message"`
	ExtractedFields map[string]string `json:"extractedFields,omitempty"`
}
