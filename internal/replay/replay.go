// Package replay pulls historical events from CloudWatch Logs and regroups
// them into subscription envelopes, so they can be shipped through the same
// pipeline as live deliveries.
package replay

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/sourcegraph/conc/pool"

	"github.com/Nao-Mk2/cwl-shipper/internal/model"
)

const (
	// DefaultWorkers is the number of groups fetched concurrently.
	DefaultWorkers = 4
	// DefaultBatchSize caps the entries of one replayed envelope.
	DefaultBatchSize = 500
)

// ErrNoGroups is returned when a Source has no log groups to read.
var ErrNoGroups = errors.New("no log groups configured")

// LogsClient is the subset of CloudWatch Logs API we use.
type LogsClient interface {
	FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

// Source reads a time window of events from multiple log groups.
type Source struct {
	client    LogsClient
	groups    []string
	startTime time.Time
	endTime   time.Time
	workers   int
	batchSize int
}

// New creates a Source.
func New(client LogsClient, groups []string, startTime, endTime time.Time) *Source {
	return &Source{
		client:    client,
		groups:    groups,
		startTime: startTime,
		endTime:   endTime,
		workers:   DefaultWorkers,
		batchSize: DefaultBatchSize,
	}
}

// SetWorkers changes the fetch concurrency. Values below one are ignored.
func (s *Source) SetWorkers(n int) {
	if n > 0 {
		s.workers = n
	}
}

// SetBatchSize changes the per-envelope entry cap. Values below one are
// ignored.
func (s *Source) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// FilterPattern quotes a bare term so CloudWatch matches it literally.
// Patterns that are already quoted or use JSON / space-delimited syntax are
// passed through unchanged.
func FilterPattern(p string) string {
	if p == "" {
		return ""
	}
	if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
		return p
	}
	if strings.HasPrefix(p, "{") || strings.HasPrefix(p, "[") {
		return p
	}
	return `"` + p + `"`
}

// Fetch returns every event matching filterPattern across the configured
// groups, ordered by timestamp. An empty pattern matches all events.
func (s *Source) Fetch(ctx context.Context, filterPattern string) ([]model.LogRecord, error) {
	if len(s.groups) == 0 {
		return nil, ErrNoGroups
	}
	fp := FilterPattern(filterPattern)
	startMs := s.startTime.UnixMilli()
	endMs := s.endTime.UnixMilli()

	var (
		p   = pool.New().WithContext(ctx).WithMaxGoroutines(s.workers).WithCancelOnError().WithFirstError()
		mu  sync.Mutex
		all []model.LogRecord
	)
	for _, group := range s.groups {
		p.Go(func(ctx context.Context) error {
			records, err := s.fetchGroup(ctx, group, fp, startMs, endMs)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, records...)
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Timestamp.Equal(all[j].Timestamp) {
			if all[i].LogGroup == all[j].LogGroup {
				if all[i].LogStream == all[j].LogStream {
					return all[i].EventID < all[j].EventID
				}
				return all[i].LogStream < all[j].LogStream
			}
			return all[i].LogGroup < all[j].LogGroup
		}
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

// Collect fetches matching events and groups them into DATA envelopes
// stamped with owner.
func (s *Source) Collect(ctx context.Context, filterPattern, owner string) ([]*model.Envelope, error) {
	records, err := s.Fetch(ctx, filterPattern)
	if err != nil {
		return nil, err
	}
	return Envelopes(records, owner, s.batchSize), nil
}

// fetchGroup pages through a single log group.
func (s *Source) fetchGroup(ctx context.Context, group, filterPattern string, startMs, endMs int64) ([]model.LogRecord, error) {
	var records []model.LogRecord
	var next *string
	for {
		in := &cloudwatchlogs.FilterLogEventsInput{
			LogGroupName: aws.String(group),
			StartTime:    aws.Int64(startMs),
			EndTime:      aws.Int64(endMs),
			NextToken:    next,
		}
		if filterPattern != "" {
			in.FilterPattern = aws.String(filterPattern)
		}
		out, err := s.client.FilterLogEvents(ctx, in)
		if err != nil {
			return nil, &FetchError{Group: group, Err: err}
		}
		for _, e := range out.Events {
			records = append(records, model.LogRecord{
				EventID:   aws.ToString(e.EventId),
				Timestamp: time.UnixMilli(aws.ToInt64(e.Timestamp)).UTC(),
				LogGroup:  group,
				LogStream: aws.ToString(e.LogStreamName),
				Message:   aws.ToString(e.Message),
			})
		}
		if out.NextToken == nil || (next != nil && aws.ToString(out.NextToken) == aws.ToString(next)) {
			break
		}
		next = out.NextToken
	}
	return records, nil
}

// FetchError reports a failed FilterLogEvents call for one group.
type FetchError struct {
	Group string
	Err   error
}

func (e *FetchError) Error() string {
	return "filter log events in " + e.Group + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Envelopes groups records by (log group, log stream) into DATA envelopes of
// at most batch entries. Records keep their relative order; envelopes are
// ordered by group then stream.
func Envelopes(records []model.LogRecord, owner string, batch int) []*model.Envelope {
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	type key struct{ group, stream string }
	byKey := map[key][]model.LogEntry{}
	var keys []key
	for _, r := range records {
		k := key{r.LogGroup, r.LogStream}
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], r.Entry())
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].group == keys[j].group {
			return keys[i].stream < keys[j].stream
		}
		return keys[i].group < keys[j].group
	})

	var out []*model.Envelope
	for _, k := range keys {
		entries := byKey[k]
		for len(entries) > 0 {
			n := min(batch, len(entries))
			out = append(out, &model.Envelope{
				MessageType:         model.MessageTypeData,
				Owner:               owner,
				LogGroup:            k.group,
				LogStream:           k.stream,
				SubscriptionFilters: []string{"replay"},
				LogEvents:           entries[:n:n],
			})
			entries = entries[n:]
		}
	}
	return out
}
