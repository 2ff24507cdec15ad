// Package transform turns decoded CloudWatch Logs envelopes into bulk-index
// action and document pairs.
package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Nao-Mk2/cwl-shipper/internal/model"
	"github.com/Nao-Mk2/cwl-shipper/internal/util"
)

const (
	// DocumentType is the fixed _type of every index action.
	DocumentType = "serverless-es-logs"
	// DefaultIndexPrefix is the prefix used by dry runs that have no
	// destination configured.
	DefaultIndexPrefix = "cwl"
	// DefaultLevel is the severity of lines that carry none.
	DefaultLevel = "debug"

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Warning describes a log entry whose content could not be fully parsed. The
// entry is still indexed with its raw content.
type Warning struct {
	EntryID string
	Field   string
	Reason  string
}

func (w Warning) Error() string {
	if w.Field != "" {
		return fmt.Sprintf("entry %s field %s: %s", w.EntryID, w.Field, w.Reason)
	}
	return fmt.Sprintf("entry %s: %s", w.EntryID, w.Reason)
}

// Option configures an Engine.
type Option func(*Engine)

// WithProjections adds JMESPath field projections evaluated against each
// entry's parsed JSON content.
func WithProjections(ps ...util.Projection) Option {
	return func(e *Engine) { e.projections = append(e.projections, ps...) }
}

// WithWarningHook registers a callback invoked for every recovered entry.
func WithWarningHook(fn func(Warning)) Option {
	return func(e *Engine) { e.onWarning = fn }
}

// Engine derives index names and documents from envelopes. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	prefix      string
	projections []util.Projection
	onWarning   func(Warning)
}

// New creates an Engine writing to indices named "<prefix>-YYYY.MM.DD".
// The prefix is required configuration and is used as given.
func New(prefix string, opts ...Option) *Engine {
	e := &Engine{prefix: prefix}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IndexName returns the daily index for ts, computed in UTC.
func IndexName(prefix string, ts time.Time) string {
	return prefix + "-" + ts.UTC().Format("2006.01.02")
}

// Pairs converts every entry of env into an action/document pair. CONTROL
// envelopes yield nil.
func (e *Engine) Pairs(env *model.Envelope) []model.Pair {
	if env == nil || env.IsControl() || len(env.LogEvents) == 0 {
		return nil
	}
	pairs := make([]model.Pair, 0, len(env.LogEvents))
	for i := range env.LogEvents {
		pairs = append(pairs, e.pair(env, &env.LogEvents[i]))
	}
	return pairs
}

// Transform renders env as a newline-delimited bulk body: one action line
// followed by one document line per entry, with a trailing newline. CONTROL
// and empty envelopes yield nil.
func (e *Engine) Transform(env *model.Envelope) []byte {
	pairs := e.Pairs(env)
	if len(pairs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, p := range pairs {
		// IndexTarget only holds strings.
		action, _ := marshalLine(p.Action)
		doc, err := marshalLine(p.Document)
		if err != nil {
			id, _ := p.Document[model.FieldID].(string)
			e.warn(Warning{EntryID: id, Reason: "document not encodable, indexing reserved fields only: " + err.Error()})
			doc, _ = marshalLine(reservedOnly(p.Document))
		}
		buf.Write(action)
		buf.Write(doc)
	}
	return buf.Bytes()
}

func (e *Engine) pair(env *model.Envelope, entry *model.LogEntry) model.Pair {
	ts := time.UnixMilli(entry.Timestamp).UTC()
	doc := model.Document{}

	var (
		requestID string
		source    any
	)
	if entry.ExtractedFields != nil {
		fields := e.coerceFields(entry)
		for k, v := range fields {
			doc[k] = v
		}
		source = fields
	} else {
		line := parseLine(entry.Message)
		if line.delimited {
			ts = line.timestamp
			requestID = line.requestID
		}
		level := line.level
		if level == "" {
			level = DefaultLevel
		}
		doc["level"] = level
		doc["message"] = line.body

		if fields, ok := e.jsonObject(entry.ID, "", line.body); ok {
			if v, ok := firstSet(fields, "level"); ok {
				doc["level"] = v
			}
			if v, ok := firstSet(fields, "message", "msg"); ok {
				doc["message"] = v
			}
			doc["fields"] = fields
			source = fields
		}
	}

	for _, p := range e.projections {
		v, ok, err := p.Apply(source)
		if err != nil {
			e.warn(Warning{EntryID: entry.ID, Field: p.Name, Reason: err.Error()})
			continue
		}
		if ok {
			doc[p.Name] = v
		}
	}

	id := entry.ID
	if id == "" {
		id = requestID
	}
	doc[model.FieldID] = id
	doc[model.FieldTimestamp] = ts.Format(timestampLayout)
	doc[model.FieldMessage] = entry.Message
	doc[model.FieldOwner] = env.Owner
	doc[model.FieldLogGroup] = env.LogGroup
	doc[model.FieldLogStream] = env.LogStream
	if requestID != "" {
		doc[model.FieldRequestID] = requestID
	}

	return model.Pair{
		Action: model.IndexAction{Index: model.IndexTarget{
			Index: IndexName(e.prefix, ts),
			Type:  DocumentType,
			ID:    id,
		}},
		Document: doc,
	}
}

func (e *Engine) warn(w Warning) {
	if e.onWarning != nil {
		e.onWarning(w)
	}
}

// jsonObject parses the text from the first '{' onwards. Text without a
// brace is plain; text with a brace that does not parse raises a warning.
func (e *Engine) jsonObject(entryID, field, s string) (map[string]any, bool) {
	obj, found, ok := extractJSON(s)
	if found && !ok {
		e.warn(Warning{EntryID: entryID, Field: field, Reason: "embedded JSON is malformed, stored as text"})
	}
	return obj, ok
}

func extractJSON(s string) (obj map[string]any, found, ok bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, false, false
	}
	sub := s[start:]
	if !json.Valid([]byte(sub)) {
		return nil, true, false
	}
	if err := json.Unmarshal([]byte(sub), &obj); err != nil {
		return nil, true, false
	}
	return obj, true, true
}

// firstSet returns the first key whose value is neither null, false, zero
// nor an empty string.
func firstSet(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case nil:
		case string:
			if v != "" {
				return v, true
			}
		case bool:
			if v {
				return v, true
			}
		case float64:
			if v != 0 {
				return v, true
			}
		default:
			return v, true
		}
	}
	return nil, false
}

func marshalLine(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func reservedOnly(doc model.Document) model.Document {
	out := model.Document{}
	for k, v := range doc {
		if strings.HasPrefix(k, "@") {
			out[k] = v
		}
	}
	return out
}
