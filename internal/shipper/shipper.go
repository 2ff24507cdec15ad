// Package shipper runs one CloudWatch Logs batch through decode, transform,
// sign and bulk write, and is the only place errors become a reported
// outcome.
package shipper

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Nao-Mk2/cwl-shipper/internal/bulk"
	"github.com/Nao-Mk2/cwl-shipper/internal/config"
	"github.com/Nao-Mk2/cwl-shipper/internal/envelope"
	"github.com/Nao-Mk2/cwl-shipper/internal/model"
	"github.com/Nao-Mk2/cwl-shipper/internal/signer"
	"github.com/Nao-Mk2/cwl-shipper/internal/transform"
	"github.com/Nao-Mk2/cwl-shipper/internal/util"
)

// Hooks are optional callbacks invoked at pipeline boundaries.
type Hooks struct {
	OnDecoded     func(ctx context.Context, env *model.Envelope)
	OnTransformed func(ctx context.Context, documents int, body []byte)
	OnSigned      func(ctx context.Context, req *model.SignedRequest)
	OnReport      func(ctx context.Context, report *Report)
	OnFailure     func(ctx context.Context, failure *Failure)
}

// Option configures a Shipper.
type Option func(*Shipper)

// WithLogger sets the logger used at pipeline boundaries.
func WithLogger(l *zap.Logger) Option {
	return func(s *Shipper) { s.logger = l }
}

// WithHooks registers boundary callbacks.
func WithHooks(h Hooks) Option {
	return func(s *Shipper) { s.hooks = h }
}

// Shipper holds the read-only collaborators of the pipeline. It keeps no
// per-invocation state.
type Shipper struct {
	endpoint signer.Endpoint
	engine   *transform.Engine
	signer   *signer.Signer
	client   *bulk.Client
	logger   *zap.Logger
	hooks    Hooks
}

// New wires a Shipper from already constructed stages.
func New(endpoint signer.Endpoint, engine *transform.Engine, sg *signer.Signer, client *bulk.Client, opts ...Option) *Shipper {
	s := &Shipper{
		endpoint: endpoint,
		engine:   engine,
		signer:   sg,
		client:   client,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig builds every stage from cfg. Transform warnings are logged
// at warn level.
func NewFromConfig(cfg config.Config, logger *zap.Logger, opts ...Option) (*Shipper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ep, err := signer.ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	projections, err := util.ParseProjections(cfg.Extract)
	if err != nil {
		return nil, fmt.Errorf("parse field projections: %w", err)
	}
	engine := transform.New(cfg.IndexPrefix,
		transform.WithProjections(projections...),
		transform.WithWarningHook(WarningLogger(logger)),
	)
	sg := signer.New(cfg.Credentials(), signer.WithRegion(cfg.Region))
	client := bulk.New(bulk.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}))

	return New(ep, engine, sg, client, append([]Option{WithLogger(logger)}, opts...)...), nil
}

// WarningLogger returns a transform warning hook that logs at warn level.
func WarningLogger(logger *zap.Logger) func(transform.Warning) {
	return func(w transform.Warning) {
		logger.Warn("Recovered malformed log entry",
			zap.String("entry_id", w.EntryID),
			zap.String("field", w.Field),
			zap.String("reason", w.Reason))
	}
}

// FailureFields renders every part of f as log fields, including the raw
// response payload and the rejected items.
func FailureFields(f *Failure) []zap.Field {
	fields := []zap.Field{
		zap.String("kind", f.Kind),
		zap.Int("code", f.Code),
		zap.String("message", f.Message),
	}
	if f.Payload != "" {
		fields = append(fields, zap.String("payload", f.Payload))
	}
	if len(f.FailedItems) > 0 {
		fields = append(fields, zap.Any("failed_items", f.FailedItems))
	}
	return fields
}

type invocationIDKey struct{}

// ContextWithInvocationID attaches an id used to correlate log lines.
func ContextWithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey{}, id)
}

// InvocationID returns the id attached by ContextWithInvocationID.
func InvocationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(invocationIDKey{}).(string)
	return id, ok && id != ""
}

func invocationID(ctx context.Context) string {
	if id, ok := InvocationID(ctx); ok {
		return id
	}
	return uuid.NewString()
}

// Ship decodes a base64 gzip subscription payload and ships it.
func (s *Shipper) Ship(ctx context.Context, data string) (*Report, error) {
	ctx = s.withID(ctx)
	env, err := envelope.Decode(data)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.ShipEnvelope(ctx, env)
}

// ShipEnvelope transforms, signs and sends env in a single bulk request.
// CONTROL and empty envelopes send nothing.
func (s *Shipper) ShipEnvelope(ctx context.Context, env *model.Envelope) (*Report, error) {
	ctx = s.withID(ctx)
	log := s.log(ctx).With(zap.String("log_group", env.LogGroup), zap.String("log_stream", env.LogStream))
	if s.hooks.OnDecoded != nil {
		s.hooks.OnDecoded(ctx, env)
	}

	if env.IsControl() {
		log.Debug("Control message, nothing to ship")
		return s.report(ctx, skippedReport()), nil
	}

	body := s.engine.Transform(env)
	if s.hooks.OnTransformed != nil {
		s.hooks.OnTransformed(ctx, len(env.LogEvents), body)
	}
	if len(body) == 0 {
		log.Debug("Empty batch, nothing to ship")
		return s.report(ctx, skippedReport()), nil
	}
	log.Debug("Transformed batch", zap.Int("documents", len(env.LogEvents)), zap.Int("bytes", len(body)))

	req, err := s.signer.Sign(s.endpoint, body)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("sign bulk request: %w", err))
	}
	if s.hooks.OnSigned != nil {
		s.hooks.OnSigned(ctx, req)
	}

	res, status, err := s.client.Send(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("send bulk request: %w", err))
	}

	report := NewReport(res, status)
	if report.Partial() {
		log.Warn("Some documents were rejected",
			zap.Int("attempted", report.Success.AttemptedItems),
			zap.Int("failed", report.Success.FailedItems))
	} else {
		log.Info("Shipped batch",
			zap.Int("attempted", report.Success.AttemptedItems),
			zap.Int("status", status))
	}
	return s.report(ctx, report), nil
}

func (s *Shipper) withID(ctx context.Context) context.Context {
	if _, ok := InvocationID(ctx); ok {
		return ctx
	}
	return ContextWithInvocationID(ctx, invocationID(ctx))
}

func (s *Shipper) log(ctx context.Context) *zap.Logger {
	return s.logger.With(zap.String("invocation_id", invocationID(ctx)))
}

func (s *Shipper) report(ctx context.Context, r *Report) *Report {
	if s.hooks.OnReport != nil {
		s.hooks.OnReport(ctx, r)
	}
	return r
}

func (s *Shipper) fail(ctx context.Context, err error) error {
	f := Describe(err)
	s.log(ctx).Error("Invocation failed", FailureFields(f)...)
	if s.hooks.OnFailure != nil {
		s.hooks.OnFailure(ctx, f)
	}
	return err
}
