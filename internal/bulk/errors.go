package bulk

import (
	"fmt"

	"github.com/Nao-Mk2/cwl-shipper/internal/model"
)

// TransportError reports a failure to reach the destination or to read its
// response. Callers may retry the whole batch.
type TransportError struct {
	Host string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bulk request to %s failed: %v", e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RequestError reports a bulk write the destination rejected: a non-200
// status, a top-level errors flag, or an unparsable response. Result holds
// the classified items when the body could be parsed.
type RequestError struct {
	StatusCode int
	Body       string
	Result     *model.BulkResult
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("bulk request failed with status %d: %v", e.StatusCode, e.Err)
	case e.Result != nil && len(e.Result.FailedItems) > 0:
		return fmt.Sprintf("bulk request failed with status %d: %d of %d items rejected",
			e.StatusCode, len(e.Result.FailedItems), e.Result.AttemptedItems)
	default:
		return fmt.Sprintf("bulk request failed with status %d", e.StatusCode)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }
