package envelope

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nao-Mk2/cwl-shipper/internal/model"
)

const sampleJSON = `{
  "messageType": "DATA_MESSAGE",
  "owner": "374852340823",
  "logGroup": "/aws/lambda/big-mouth-dev-get-index",
  "logStream": "2018/03/20/[$LATEST]ef2392ba281140eab63195d867c72f53",
  "subscriptionFilters": ["LambdaStream_logging-demo-dev-ship-logs"],
  "logEvents": [
    {
      "id": "33930704242294971955536170665249597930924355657009987584",
      "timestamp": 1521505399942,
      "message": "START RequestId: e45ea8a8-2bd4-11e8-b067-ef0ab9604ab5 Version: $LATEST\n"
    },
    {
      "id": "33930707631718332444609990261529037068331985646882193408",
      "timestamp": 1521505551929,
      "message": "2018-03-20T00:25:51.929Z\t3ee1bd8c-2bd5-11e8-a207-1da46aa487c9\t{ \"message\": \"found restaurants\" }\n",
      "extractedFields": {
        "request_id": "3ee1bd8c-2bd5-11e8-a207-1da46aa487c9",
        "timestamp": "2018-03-20T00:25:51.929Z"
      }
    }
  ]
}`

func gzipBase64(t *testing.T, text string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecode(t *testing.T) {
	env, err := Decode(gzipBase64(t, sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, model.MessageTypeData, env.MessageType)
	assert.False(t, env.IsControl())
	assert.Equal(t, "374852340823", env.Owner)
	assert.Equal(t, "/aws/lambda/big-mouth-dev-get-index", env.LogGroup)
	require.Len(t, env.LogEvents, 2)
	assert.Equal(t, int64(1521505399942), env.LogEvents[0].Timestamp)
	assert.Nil(t, env.LogEvents[0].ExtractedFields)
	assert.Equal(t, "3ee1bd8c-2bd5-11e8-a207-1da46aa487c9", env.LogEvents[1].ExtractedFields["request_id"])
}

func TestDecodeControl(t *testing.T) {
	env, err := Decode(gzipBase64(t, `{"messageType":"CONTROL_MESSAGE","owner":"CloudwatchLogs","logGroup":"","logStream":"","logEvents":[]}`))
	require.NoError(t, err)
	assert.True(t, env.IsControl())
	assert.Empty(t, env.LogEvents)
}

func TestDecodeErrors(t *testing.T) {
	notGzip := base64.StdEncoding.EncodeToString([]byte("plain text"))
	tests := []struct {
		name  string
		in    string
		stage string
	}{
		{"bad base64", "%%%not-base64", StageBase64},
		{"not gzip", notGzip, StageGzip},
		{"not json", gzipBase64(t, "not json"), StageJSON},
		{"wrong shape", gzipBase64(t, `["a","b"]`), StageJSON},
		{"unknown type", gzipBase64(t, `{"messageType":"OTHER","logEvents":[]}`), StageJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode(tt.in)
			require.Error(t, err)
			assert.Nil(t, env)
			var de *DecodeError
			require.True(t, errors.As(err, &de), "expected DecodeError, got %T", err)
			assert.Equal(t, tt.stage, de.Stage)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	in := &model.Envelope{
		MessageType: model.MessageTypeData,
		Owner:       "123",
		LogGroup:    "/g",
		LogStream:   "s",
		LogEvents:   []model.LogEntry{{ID: "1", Timestamp: 42, Message: "hello"}},
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
