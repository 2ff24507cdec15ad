package transform

import (
	"strings"
	"time"
)

// parsedLine is a message split into the Lambda runtime's tab-delimited
// "timestamp, request id, body" form. Lines that do not follow it keep the
// whole message as body.
type parsedLine struct {
	delimited bool
	timestamp time.Time
	requestID string
	level     string
	body      string
}

var levelTokens = map[string]string{
	"TRACE":   "trace",
	"DEBUG":   "debug",
	"INFO":    "info",
	"WARN":    "warn",
	"WARNING": "warn",
	"ERROR":   "error",
	"FATAL":   "fatal",
}

func parseLine(msg string) parsedLine {
	parts := strings.SplitN(msg, "\t", 3)
	if len(parts) == 3 {
		if ts, err := time.Parse(time.RFC3339, parts[0]); err == nil {
			line := parsedLine{
				delimited: true,
				timestamp: ts.UTC(),
				requestID: parts[1],
				body:      trimNewline(parts[2]),
			}
			// Newer runtimes insert the level between request id and body.
			if lvl, rest, ok := strings.Cut(line.body, "\t"); ok {
				if norm, known := levelTokens[lvl]; known {
					line.level = norm
					line.body = rest
				}
			}
			return line
		}
	}
	return parsedLine{body: trimNewline(msg)}
}

func trimNewline(s string) string {
	return strings.TrimRight(s, "\r\n")
}
