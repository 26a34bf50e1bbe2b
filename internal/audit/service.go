package audit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"racing-admin/pkg/logger"
)

// Sink accepts events on the request path. Implementations must not block for
// long and must never surface persistence failures to the caller.
type Sink interface {
	Submit(ctx context.Context, e Event)
}

// Service validates and persists events.
//
// IMPORTANT:
//   - Audit is internal-only. These records are exposed to administrators only.
//   - Callers on the request path should go through Submit (or a Dispatcher),
//     which treat persistence as best-effort.
type Service struct {
	store    Store
	builder  Builder
	resolver Resolver
	metrics  *Metrics
	log      *slog.Logger
}

type ServiceOptions struct {
	Resolver Resolver
	Metrics  *Metrics
	Logger   *slog.Logger
}

func NewService(store Store, policy Policy, opts ServiceOptions) *Service {
	return &Service{
		store:    store,
		builder:  NewBuilder(policy),
		resolver: opts.Resolver,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}
}

// Record normalizes e, rejects it if a required field is missing, and saves it.
func (s *Service) Record(ctx context.Context, e Event) (Event, error) {
	if s.store == nil {
		return Event{}, errors.New("audit: store not configured")
	}
	e = Normalize(e, s.builder.Policy.DefaultRole)
	if !e.valid() {
		return Event{}, ErrInvalidEvent
	}
	saved, err := s.store.Save(ctx, e)
	if err != nil {
		s.metrics.writeFailed()
		return Event{}, err
	}
	s.metrics.recorded()
	return saved, nil
}

// Submit records synchronously and swallows the error after logging it.
func (s *Service) Submit(ctx context.Context, e Event) {
	if _, err := s.Record(ctx, e); err != nil {
		s.logger(ctx).Warn("audit write failed",
			"err", err,
			"method", e.Method,
			"path", e.Path,
			"status", e.Status,
		)
	}
}

// LogAdminWrite records an event for a request the middleware does not
// intercept, with a note from business logic. Intercepted requests already get
// exactly one event; attach their note with SetNote instead.
func (s *Service) LogAdminWrite(ctx context.Context, req *http.Request, status int, note string) (Event, error) {
	if s.builder.Policy.ShouldAudit(req.Method, req.URL.Path) {
		return Event{}, ErrIntercepted
	}
	e := s.builder.Build(Facts{
		Method:       req.Method,
		Path:         req.URL.Path,
		Status:       status,
		Actor:        s.resolver.Resolve(ctx, req.Header),
		UserAgent:    req.UserAgent(),
		Note:         note,
		ForwardedFor: req.Header.Get("X-Forwarded-For"),
		RemoteAddr:   req.RemoteAddr,
	})
	return s.Record(ctx, e)
}

func (s *Service) logger(ctx context.Context) *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return logger.From(ctx)
}
