package shipper

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Nao-Mk2/cwl-shipper/internal/bulk"
	"github.com/Nao-Mk2/cwl-shipper/internal/config"
	"github.com/Nao-Mk2/cwl-shipper/internal/envelope"
	"github.com/Nao-Mk2/cwl-shipper/internal/model"
	"github.com/Nao-Mk2/cwl-shipper/internal/signer"
	"github.com/Nao-Mk2/cwl-shipper/internal/transform"
)

var testCreds = aws.Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET", SessionToken: "TOKEN"}

func dataEnvelope() *model.Envelope {
	return &model.Envelope{
		MessageType: model.MessageTypeData,
		Owner:       "123456789012",
		LogGroup:    "/aws/lambda/orders",
		LogStream:   "2018/03/20/[$LATEST]abc",
		LogEvents: []model.LogEntry{
			{ID: "e1", Timestamp: 1521505551000, Message: "2018-03-20T00:25:51.000Z\treq-1\tstarted\n"},
			{ID: "e2", Timestamp: 1521505552000, Message: `{"level":"error","msg":"boom"}`},
		},
	}
}

func newTestShipper(t *testing.T, status int, resp string, requests *int32, opts ...Option) *Shipper {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		b, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, "/_bulk", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), signer.Algorithm))
		assert.True(t, strings.HasSuffix(string(b), "\n"))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)

	ep := signer.Endpoint{Host: strings.TrimPrefix(srv.URL, "https://"), Region: "us-east-1", Service: "es"}
	return New(ep,
		transform.New("cwl"),
		signer.New(testCreds),
		bulk.New(bulk.WithHTTPClient(srv.Client())),
		opts...)
}

func TestShipControlSendsNothing(t *testing.T) {
	var requests int32
	s := newTestShipper(t, http.StatusOK, `{}`, &requests)

	data, err := envelope.Encode(&model.Envelope{MessageType: model.MessageTypeControl, Owner: "CloudwatchLogs"})
	require.NoError(t, err)

	report, err := s.Ship(context.Background(), data)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Zero(t, report.Success.AttemptedItems)
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))
}

func TestShipEmptyBatchSendsNothing(t *testing.T) {
	var requests int32
	s := newTestShipper(t, http.StatusOK, `{}`, &requests)

	env := dataEnvelope()
	env.LogEvents = nil
	report, err := s.ShipEnvelope(context.Background(), env)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))
}

func TestShipSuccess(t *testing.T) {
	var requests int32
	resp := `{"errors":false,"items":[
		{"index":{"_index":"cwl-2018.03.20","_id":"e1","status":201}},
		{"index":{"_index":"cwl-2018.03.20","_id":"e2","status":201}}]}`

	var decoded, transformed, reported int32
	s := newTestShipper(t, http.StatusOK, resp, &requests, WithHooks(Hooks{
		OnDecoded:     func(context.Context, *model.Envelope) { atomic.AddInt32(&decoded, 1) },
		OnTransformed: func(_ context.Context, n int, _ []byte) { atomic.AddInt32(&transformed, int32(n)) },
		OnReport:      func(context.Context, *Report) { atomic.AddInt32(&reported, 1) },
	}))

	data, err := envelope.Encode(dataEnvelope())
	require.NoError(t, err)

	report, err := s.Ship(ContextWithInvocationID(context.Background(), "inv-1"), data)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, report.StatusCode)
	assert.Equal(t, Summary{AttemptedItems: 2, SuccessfulItems: 2}, report.Success)
	assert.Empty(t, report.FailedItems)
	assert.False(t, report.Partial())
	assert.Equal(t, int32(1), requests)
	assert.Equal(t, int32(1), decoded)
	assert.Equal(t, int32(2), transformed)
	assert.Equal(t, int32(1), reported)
}

func TestShipPartialFailure(t *testing.T) {
	var requests int32
	resp := `{"errors":false,"items":[
		{"index":{"_id":"e1","status":201}},
		{"index":{"_id":"e2","status":409,"error":{"type":"version_conflict_engine_exception"}}}]}`
	s := newTestShipper(t, http.StatusOK, resp, &requests)

	report, err := s.ShipEnvelope(context.Background(), dataEnvelope())
	require.NoError(t, err)
	assert.True(t, report.Partial())
	assert.Equal(t, Summary{AttemptedItems: 2, SuccessfulItems: 1, FailedItems: 1}, report.Success)
	require.Len(t, report.FailedItems, 1)
	_, item := report.FailedItems[0].Outcome()
	assert.Equal(t, "e2", item.ID)
}

func TestShipFailures(t *testing.T) {
	t.Run("decode", func(t *testing.T) {
		var requests int32
		var failure *Failure
		s := newTestShipper(t, http.StatusOK, `{}`, &requests, WithHooks(Hooks{
			OnFailure: func(_ context.Context, f *Failure) { failure = f },
		}))

		_, err := s.Ship(context.Background(), "not base64!")
		require.Error(t, err)
		var de *envelope.DecodeError
		assert.True(t, errors.As(err, &de))
		require.NotNil(t, failure)
		assert.Equal(t, KindDecode, failure.Kind)
		assert.Equal(t, envelope.StageBase64, failure.Payload)
		assert.Equal(t, int32(0), requests)
	})

	t.Run("bulk request", func(t *testing.T) {
		var requests int32
		core, logs := observer.New(zap.ErrorLevel)
		s := newTestShipper(t, http.StatusForbidden, `{"message":"denied"}`, &requests, WithLogger(zap.New(core)))

		_, err := s.ShipEnvelope(context.Background(), dataEnvelope())
		require.Error(t, err)
		f := Describe(err)
		assert.Equal(t, KindBulkRequest, f.Kind)
		assert.Equal(t, http.StatusForbidden, f.Code)
		assert.Contains(t, f.Payload, "denied")

		entries := logs.FilterMessage("Invocation failed").All()
		require.Len(t, entries, 1)
		assert.Equal(t, `{"message":"denied"}`, entries[0].ContextMap()["payload"])
		assert.Equal(t, KindBulkRequest, entries[0].ContextMap()["kind"])
	})

	t.Run("signer", func(t *testing.T) {
		s := New(signer.Endpoint{Host: "localhost", Service: "es"},
			transform.New("cwl"), signer.New(testCreds), bulk.New())

		_, err := s.ShipEnvelope(context.Background(), dataEnvelope())
		require.Error(t, err)
		assert.Equal(t, KindSigner, Describe(err).Kind)
	})
}

func TestDescribe(t *testing.T) {
	assert.Nil(t, Describe(nil))
	assert.Equal(t, KindInternal, Describe(errors.New("x")).Kind)
	assert.Equal(t, KindTransport, Describe(&bulk.TransportError{Host: "h", Err: errors.New("refused")}).Kind)
}

func TestFailureFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := &Failure{Kind: KindDecode, Message: "bad payload"}
	zap.New(core).Info("x", FailureFields(f)...)

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, KindDecode, fields["kind"])
	assert.NotContains(t, fields, "payload")
	assert.NotContains(t, fields, "failed_items")
}

func TestReportJSON(t *testing.T) {
	res := bulk.Classify([]model.BulkItem{
		{"index": {ID: "a", Status: 201}},
		{"index": {ID: "b", Status: 400, Error: "mapper_parsing_exception"}},
	})
	b, err := json.Marshal(NewReport(res, http.StatusOK))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, float64(200), got["statusCode"])
	assert.Equal(t, map[string]any{"attemptedItems": float64(2), "successfulItems": float64(1), "failedItems": float64(1)}, got["success"])
	assert.Len(t, got["failedItems"], 1)
	assert.NotContains(t, got, "skipped")
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.IndexPrefix = "logs"
	cfg.Endpoint = "search-logs-abc.us-east-1.es.amazonaws.com"
	cfg.AccessKeyID = "AKID"
	cfg.SecretAccessKey = "SECRET"
	cfg.Extract = []string{"user=user.id"}

	s, err := NewFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", s.endpoint.Region)

	cfg.Endpoint = "elastic.example.com"
	_, err = NewFromConfig(cfg, nil)
	require.Error(t, err)

	cfg.Endpoint = "search-logs-abc.us-east-1.es.amazonaws.com"
	cfg.Extract = []string{"broken"}
	_, err = NewFromConfig(cfg, nil)
	require.Error(t, err)
}

func TestInvocationID(t *testing.T) {
	_, ok := InvocationID(context.Background())
	assert.False(t, ok)

	ctx := ContextWithInvocationID(context.Background(), "abc")
	id, ok := InvocationID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	s := New(signer.Endpoint{}, transform.New(""), signer.New(testCreds), bulk.New())
	var seen string
	s.hooks.OnDecoded = func(ctx context.Context, _ *model.Envelope) { seen, _ = InvocationID(ctx) }
	_, err := s.ShipEnvelope(context.Background(), &model.Envelope{MessageType: model.MessageTypeControl})
	require.NoError(t, err)
	assert.NotEmpty(t, seen)
}
