package model

// Header is a single HTTP header. Order is preserved in SignedRequest.
type Header struct {
	Name  string
	Value string
}

// SignedRequest describes a fully authenticated bulk write. It is never
// persisted.
type SignedRequest struct {
	Host    string
	Method  string
	Path    string
	Body    []byte
	Headers []Header
}

// Header returns the value of the named header, matched case-sensitively.
func (r *SignedRequest) Header(name string) string {
	for _, h := range r.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// BulkItem is one entry of the bulk response "items" array. The outer key is
// the action name (index, create, update, delete).
type BulkItem map[string]BulkItemResult

// BulkItemResult is the per-document outcome reported by the destination.
type BulkItemResult struct {
	Index  string `json:"_index,omitempty"`
	Type   string `json:"_type,omitempty"`
	ID     string `json:"_id,omitempty"`
	Status int    `json:"status"`
	Result string `json:"result,omitempty"`
	Error  any    `json:"error,omitempty"`
}

// Outcome returns the single action result carried by the item.
func (it BulkItem) Outcome() (string, BulkItemResult) {
	for action, res := range it {
		return action, res
	}
	return "", BulkItemResult{}
}

// BulkResult aggregates the per-item outcome of a bulk write.
type BulkResult struct {
	AttemptedItems  int        `json:"attemptedItems"`
	SuccessfulItems int        `json:"successfulItems"`
	FailedItems     []BulkItem `json:"failedItems"`
}
