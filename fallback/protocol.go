package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/id"
)

// Protocol wraps primary writes with the summary fallback.
type Protocol struct {
	blobs         BlobStore
	codec         Codec
	logger        *slog.Logger
	retryAfter    time.Duration
	writeAttempts uint64
	writeInterval time.Duration
	now           func() time.Time
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithCodec sets the blob codec. Defaults to JSON.
func WithCodec(c Codec) Option {
	return func(p *Protocol) { p.codec = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Protocol) { p.logger = l }
}

// WithRetryAfter sets the re-entry hint carried by fallback postponements.
func WithRetryAfter(d time.Duration) Option {
	return func(p *Protocol) { p.retryAfter = d }
}

// WithBlobRetries sets how often a failing blob write is retried.
func WithBlobRetries(attempts uint64, interval time.Duration) Option {
	return func(p *Protocol) {
		p.writeAttempts = attempts
		p.writeInterval = interval
	}
}

// New returns a Protocol. A nil blobs disables the fallback: primary
// outages then always surface as try-again.
func New(blobs BlobStore, opts ...Option) *Protocol {
	p := &Protocol{
		blobs:         blobs,
		codec:         JSONCodec{},
		logger:        slog.Default(),
		retryAfter:    30 * time.Second,
		writeAttempts: 2,
		writeInterval: 100 * time.Millisecond,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load returns the summary of an instance, or durable.ErrSummaryNotFound.
func (p *Protocol) Load(ctx context.Context, instanceID id.ID) (*Summary, string, error) {
	if p.blobs == nil {
		return nil, "", durable.ErrSummaryNotFound
	}
	path, err := p.blobs.FindBlob(ctx, instanceID)
	if err != nil {
		return nil, "", err
	}
	data, err := p.blobs.ReadBlob(ctx, path)
	if err != nil {
		return nil, "", err
	}
	s, err := p.codec.Decode(data)
	if err != nil {
		return nil, "", fmt.Errorf("fallback: decode %s: %w", path, err)
	}
	return s, path, nil
}

// Discard deletes the blob at path.
func (p *Protocol) Discard(ctx context.Context, path string) error {
	if p.blobs == nil || path == "" {
		return nil
	}
	return p.blobs.DeleteBlob(ctx, path)
}

// Guard tracks the blob of one workflow instance across the writes of a
// pass.
type Guard struct {
	p        *Protocol
	path     string
	instance id.ID
	hasBlob  bool
}

// Guard returns the write guard of an instance. hasBlob tells whether a
// summary blob is known to exist at path.
func (p *Protocol) Guard(instanceID id.ID, startedAt time.Time, hasBlob bool) *Guard {
	return &Guard{p: p, path: Path(instanceID, startedAt), instance: instanceID, hasBlob: hasBlob}
}

// HasBlob reports whether a summary blob of the instance exists.
func (g *Guard) HasBlob() bool { return g.hasBlob }

// Path returns the blob path of the instance.
func (g *Guard) Path() string { return g.path }

// Persist runs primary. On success any blob of the instance is deleted. When
// primary fails because the store is unavailable the summary is written to
// the blob store and a fallback postponement is returned; when that write
// fails too a try-again error is returned. Conflicts and interrupted writes
// are returned as try-again errors; anything else is internal.
func (g *Guard) Persist(ctx context.Context, snapshot func() *Summary, primary func(ctx context.Context) error) error {
	err := primary(ctx)
	switch {
	case err == nil:
		g.discard(ctx)
		return nil
	case errors.Is(err, durable.ErrConflict):
		return durable.TryAgain("workflow instance was updated concurrently", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return durable.TryAgain("persist interrupted", err)
	case !errors.Is(err, durable.ErrStoreUnavailable):
		return durable.Internal("persist workflow state", err)
	}

	if g.p.blobs == nil {
		return durable.TryAgain("primary store unavailable and no fallback configured", err)
	}

	if blobErr := g.write(ctx, snapshot()); blobErr != nil {
		g.p.logger.Error("fallback: summary write failed",
			slog.String("workflow_instance_id", g.instance.String()),
			slog.String("primary_error", err.Error()),
			slog.String("error", blobErr.Error()),
		)
		return durable.TryAgain("primary and fallback stores unavailable", errors.Join(err, blobErr))
	}

	g.p.logger.Warn("fallback: primary store unavailable, summary written",
		slog.String("workflow_instance_id", g.instance.String()),
		slog.String("path", g.path),
		slog.String("error", err.Error()),
	)
	postponed := durable.Postpone(durable.WithRetryAfter(g.p.retryAfter))
	postponed.Fallback = true
	postponed.TechnicalMessage = "primary store unavailable; state saved to fallback"
	postponed.Err = err
	return postponed
}

func (g *Guard) write(ctx context.Context, s *Summary) error {
	s.WrittenAt = g.p.now().UTC()
	data, err := g.p.codec.Encode(s)
	if err != nil {
		return fmt.Errorf("fallback: encode: %w", err)
	}
	b := retry.WithMaxRetries(g.p.writeAttempts, retry.NewConstant(g.p.writeInterval))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		return retry.RetryableError(g.p.blobs.WriteBlob(ctx, g.path, g.instance, data))
	})
	if err != nil {
		return err
	}
	g.hasBlob = true
	return nil
}

func (g *Guard) discard(ctx context.Context) {
	if !g.hasBlob {
		return
	}
	if err := g.p.Discard(ctx, g.path); err != nil {
		// The summary stays behind; its base etag no longer matches the
		// primary row so the next load recognises it as stale.
		g.p.logger.Warn("fallback: stale summary not deleted",
			slog.String("workflow_instance_id", g.instance.String()),
			slog.String("path", g.path),
			slog.String("error", err.Error()),
		)
		return
	}
	g.hasBlob = false
}
