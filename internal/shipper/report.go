package shipper

import (
	"errors"

	"github.com/Nao-Mk2/cwl-shipper/internal/bulk"
	"github.com/Nao-Mk2/cwl-shipper/internal/envelope"
	"github.com/Nao-Mk2/cwl-shipper/internal/model"
	"github.com/Nao-Mk2/cwl-shipper/internal/signer"
)

// Summary counts the items of one bulk write.
type Summary struct {
	AttemptedItems  int `json:"attemptedItems"`
	SuccessfulItems int `json:"successfulItems"`
	FailedItems     int `json:"failedItems"`
}

// Report is the success object of an invocation. A non-empty FailedItems
// means some documents were rejected even though the request succeeded.
type Report struct {
	Success     Summary          `json:"success"`
	StatusCode  int              `json:"statusCode"`
	FailedItems []model.BulkItem `json:"failedItems"`
	// Skipped is set when nothing was sent (control or empty batch).
	Skipped bool `json:"skipped,omitempty"`
}

// NewReport builds a Report from a classified bulk result.
func NewReport(res *model.BulkResult, statusCode int) *Report {
	failed := res.FailedItems
	if failed == nil {
		failed = []model.BulkItem{}
	}
	return &Report{
		Success: Summary{
			AttemptedItems:  res.AttemptedItems,
			SuccessfulItems: res.SuccessfulItems,
			FailedItems:     len(failed),
		},
		StatusCode:  statusCode,
		FailedItems: failed,
	}
}

func skippedReport() *Report {
	return &Report{FailedItems: []model.BulkItem{}, Skipped: true}
}

// Partial reports whether some items failed to index.
func (r *Report) Partial() bool {
	return len(r.FailedItems) > 0
}

// Failure kinds.
const (
	KindDecode      = "DecodeError"
	KindSigner      = "SignerError"
	KindTransport   = "TransportError"
	KindBulkRequest = "BulkRequestError"
	KindInternal    = "InternalError"
)

// Failure is the failure object of an invocation.
type Failure struct {
	Kind        string           `json:"kind"`
	Code        int              `json:"code,omitempty"`
	Message     string           `json:"message"`
	Payload     string           `json:"payload,omitempty"`
	FailedItems []model.BulkItem `json:"failedItems,omitempty"`
}

// Describe classifies err into a Failure. It returns nil for a nil error.
func Describe(err error) *Failure {
	if err == nil {
		return nil
	}
	f := &Failure{Kind: KindInternal, Message: err.Error()}

	var (
		de *envelope.DecodeError
		se *signer.Error
		te *bulk.TransportError
		re *bulk.RequestError
	)
	switch {
	case errors.As(err, &de):
		f.Kind = KindDecode
		f.Payload = de.Stage
	case errors.As(err, &se):
		f.Kind = KindSigner
	case errors.As(err, &te):
		f.Kind = KindTransport
	case errors.As(err, &re):
		f.Kind = KindBulkRequest
		f.Code = re.StatusCode
		f.Payload = re.Body
		if re.Result != nil {
			f.FailedItems = re.Result.FailedItems
		}
	}
	return f
}
