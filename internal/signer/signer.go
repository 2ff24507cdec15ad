// Package signer builds SigV4-signed bulk requests for Amazon
// Elasticsearch/OpenSearch domains.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/Nao-Mk2/cwl-shipper/internal/model"
)

const (
	// Algorithm is the signing algorithm tag.
	Algorithm = "AWS4-HMAC-SHA256"
	// BulkPath is the destination's bulk write path.
	BulkPath = "/_bulk"

	scopeTerminator = "aws4_request"
	timeFormat      = "20060102T150405Z"
)

// Option configures a Signer.
type Option func(*Signer)

// WithRegion sets the region used when the endpoint does not name one.
func WithRegion(region string) Option {
	return func(s *Signer) { s.region = region }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// Signer signs bulk requests with static credentials.
type Signer struct {
	creds  aws.Credentials
	region string
	now    func() time.Time
}

// New creates a Signer for the given credentials.
func New(creds aws.Credentials, opts ...Option) *Signer {
	s := &Signer{creds: creds, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignEndpoint parses endpoint and signs body for it.
func (s *Signer) SignEndpoint(endpoint string, body []byte) (*model.SignedRequest, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return s.Sign(ep, body)
}

// Sign builds a POST to the bulk path of ep carrying body, with the
// Authorization header computed last.
func (s *Signer) Sign(ep Endpoint, body []byte) (*model.SignedRequest, error) {
	if s.creds.AccessKeyID == "" || s.creds.SecretAccessKey == "" {
		return nil, &Error{Endpoint: ep.Host, Reason: "missing access key id or secret access key"}
	}
	region := ep.Region
	if region == "" {
		region = s.region
	}
	if region == "" {
		return nil, &Error{Endpoint: ep.Host, Reason: "region could not be resolved from endpoint or configuration"}
	}
	service := ep.Service
	if service == "" {
		service = DefaultService
	}

	datetime := s.now().UTC().Format(timeFormat)
	date := datetime[:8]

	req := &model.SignedRequest{
		Host:   ep.Host,
		Method: http.MethodPost,
		Path:   BulkPath,
		Body:   body,
		Headers: []model.Header{
			{Name: "Content-Type", Value: "application/json"},
			{Name: "Host", Value: ep.Host},
			{Name: "Content-Length", Value: strconv.Itoa(len(body))},
		},
	}
	if s.creds.SessionToken != "" {
		req.Headers = append(req.Headers, model.Header{Name: "X-Amz-Security-Token", Value: s.creds.SessionToken})
	}
	req.Headers = append(req.Headers, model.Header{Name: "X-Amz-Date", Value: datetime})

	canonicalHeaders, signedHeaders := canonicalizeHeaders(req.Headers)
	canonical := canonicalRequest(req, canonicalHeaders, signedHeaders)
	scope := strings.Join([]string{date, region, service, scopeTerminator}, "/")
	toSign := stringToSign(datetime, scope, canonical)

	key := DeriveSigningKey(s.creds.SecretAccessKey, date, region, service)
	signature := hex.EncodeToString(hmacSHA256(key, toSign))

	req.Headers = append(req.Headers, model.Header{
		Name: "Authorization",
		Value: Algorithm + " Credential=" + s.creds.AccessKeyID + "/" + scope +
			", SignedHeaders=" + signedHeaders +
			", Signature=" + signature,
	})
	return req, nil
}

// DeriveSigningKey runs the date, region, service, terminator HMAC chain.
// Each stage keys the next.
func DeriveSigningKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), date)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, scopeTerminator)
}

func canonicalizeHeaders(headers []model.Header) (string, string) {
	sorted := make([]model.Header, len(headers))
	copy(sorted, headers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})

	lines := make([]string, 0, len(sorted))
	names := make([]string, 0, len(sorted))
	for _, h := range sorted {
		name := strings.ToLower(h.Name)
		lines = append(lines, name+":"+h.Value)
		names = append(names, name)
	}
	return strings.Join(lines, "\n"), strings.Join(names, ";")
}

func canonicalRequest(req *model.SignedRequest, canonicalHeaders, signedHeaders string) string {
	return strings.Join([]string{
		req.Method,
		req.Path,
		"",
		canonicalHeaders,
		"",
		signedHeaders,
		hashHex(req.Body),
	}, "\n")
}

func stringToSign(datetime, scope, canonical string) string {
	return strings.Join([]string{
		Algorithm,
		datetime,
		scope,
		hashHex([]byte(canonical)),
	}, "\n")
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
