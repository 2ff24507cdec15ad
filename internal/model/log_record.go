package model

import "time"

// LogRecord is a single event fetched from a CloudWatch Logs group, before it
// is grouped into an Envelope.
type LogRecord struct {
	EventID   string
	Timestamp time.Time
	LogGroup  string
	LogStream string
	Message   string
}

// Entry converts the record into the LogEntry shape carried by envelopes.
func (r LogRecord) Entry() LogEntry {
	return LogEntry{
		ID:        r.EventID,
		Timestamp: r.Timestamp.UnixMilli(),
		Message:   r.Message,
	}
}
