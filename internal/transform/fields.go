package transform

import (
	"math"
	"strconv"
	"strings"

	"github.com/Nao-Mk2/cwl-shipper/internal/model"
)

const apigwRequestIDField = "apigw_request_id"

// coerceFields applies, per value: numeric, then the API Gateway request id
// special case, then embedded JSON, then raw text. Empty values are dropped.
func (e *Engine) coerceFields(entry *model.LogEntry) map[string]any {
	out := make(map[string]any, len(entry.ExtractedFields))
	for k, v := range entry.ExtractedFields {
		if v == "" {
			continue
		}
		if n, ok := parseNumber(v); ok {
			out[k] = n
			continue
		}
		if k == apigwRequestIDField {
			out[k] = stripQuotes(v)
			continue
		}
		if obj, ok := e.jsonObject(entry.ID, k, v); ok {
			out[k] = obj
			continue
		}
		out[k] = v
	}
	return out
}

// parseNumber accepts finite decimals and unsigned 0x, 0o and 0b integer
// literals. Infinity, NaN and digit separators stay text.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if hasRadixPrefix(s) {
		if strings.ContainsRune(s, '_') {
			return 0, false
		}
		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, false
		}
		return float64(n), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func hasRadixPrefix(s string) bool {
	if len(s) < 3 || s[0] != '0' {
		return false
	}
	switch s[1] {
	case 'x', 'X', 'o', 'O', 'b', 'B':
		return true
	}
	return false
}

func stripQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
