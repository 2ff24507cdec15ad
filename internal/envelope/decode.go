// Package envelope decodes CloudWatch Logs subscription payloads.
package envelope

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/bytedance/sonic"

	"github.com/Nao-Mk2/cwl-shipper/internal/model"
)

// Decode stages reported by DecodeError.
const (
	StageBase64 = "base64"
	StageGzip   = "gzip"
	StageJSON   = "json"
)

// DecodeError reports a payload that could not be turned into an Envelope.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode envelope (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode base64-decodes, gunzips and parses a subscription payload.
func Decode(data string) (*model.Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, &DecodeError{Stage: StageBase64, Err: err}
	}
	return DecodeBytes(raw)
}

// DecodeBytes gunzips and parses an already base64-decoded payload.
func DecodeBytes(compressed []byte) (*model.Envelope, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, &DecodeError{Stage: StageGzip, Err: err}
	}
	defer zr.Close()

	text, err := io.ReadAll(zr)
	if err != nil {
		return nil, &DecodeError{Stage: StageGzip, Err: err}
	}

	var env model.Envelope
	if err := sonic.ConfigStd.Unmarshal(text, &env); err != nil {
		return nil, &DecodeError{Stage: StageJSON, Err: err}
	}
	switch env.MessageType {
	case model.MessageTypeData, model.MessageTypeControl:
	default:
		return nil, &DecodeError{Stage: StageJSON, Err: fmt.Errorf("unknown messageType %q", env.MessageType)}
	}
	return &env, nil
}

// Encode is the inverse of Decode. It builds subscription payloads for
// fixtures and local testing.
func Encode(env *model.Envelope) (string, error) {
	text, err := sonic.ConfigStd.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(text); err != nil {
		return "", fmt.Errorf("compress envelope: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
