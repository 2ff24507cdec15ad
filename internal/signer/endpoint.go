package signer

import (
	"regexp"
	"strings"
)

// DefaultService is assumed when the endpoint does not name one.
const DefaultService = "es"

var endpointPattern = regexp.MustCompile(`^([^.]+)\.?([^.]*)\.?([^.]*)\.amazonaws\.com$`)

// Endpoint is a destination host with the region and service its requests
// are scoped to.
type Endpoint struct {
	Host    string
	Region  string
	Service string
}

// ParseEndpoint extracts region and service from a domain endpoint such as
// "search-mydomain-abc123.us-east-1.es.amazonaws.com". A scheme and trailing
// slash are tolerated. Either capture may be empty for shortened forms; an
// empty service resolves to DefaultService and an empty region is left for
// the Signer to fill in.
func ParseEndpoint(endpoint string) (Endpoint, error) {
	host := strings.TrimSpace(endpoint)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimRight(host, "/")

	m := endpointPattern.FindStringSubmatch(host)
	if m == nil {
		return Endpoint{}, &Error{Endpoint: endpoint, Reason: "endpoint does not match <domain>.<region>.<service>.amazonaws.com"}
	}
	ep := Endpoint{Host: host, Region: m[2], Service: m[3]}
	if ep.Service == "" {
		ep.Service = DefaultService
	}
	return ep, nil
}
