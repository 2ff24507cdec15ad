package signer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantHost    string
		wantRegion  string
		wantService string
	}{
		{"full", "search-mydomain-abc123.us-east-1.es.amazonaws.com", "search-mydomain-abc123.us-east-1.es.amazonaws.com", "us-east-1", "es"},
		{"with scheme", "https://search-d.eu-west-1.es.amazonaws.com/", "search-d.eu-west-1.es.amazonaws.com", "eu-west-1", "es"},
		{"aoss", "abc123.us-west-2.aoss.amazonaws.com", "abc123.us-west-2.aoss.amazonaws.com", "us-west-2", "aoss"},
		{"region only", "domain.us-east-1.amazonaws.com", "domain.us-east-1.amazonaws.com", "us-east-1", DefaultService},
		{"shortest", "domain.amazonaws.com", "domain.amazonaws.com", "", DefaultService},
		// The first capture after the domain is always the region, so a
		// service-only host reports the service as the region.
		{"service only", "domain.es.amazonaws.com", "domain.es.amazonaws.com", "es", DefaultService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := ParseEndpoint(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, ep.Host)
			assert.Equal(t, tt.wantRegion, ep.Region)
			assert.Equal(t, tt.wantService, ep.Service)
		})
	}
}

func TestParseEndpointRejects(t *testing.T) {
	for _, in := range []string{"", "localhost:9200", "search.example.com", "a.b.c.d.amazonaws.com"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseEndpoint(in)
			require.Error(t, err)
			var se *Error
			assert.True(t, errors.As(err, &se))
		})
	}
}
