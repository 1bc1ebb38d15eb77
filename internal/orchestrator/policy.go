package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// Policy bounds how long and how often the machine tries a stage.
type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	StageTimeout     time.Duration
	ExecutionTimeout time.Duration
	// LeaseTTL is how long a run's claim on its execution survives without a
	// heartbeat. A crashed run blocks redelivery for at most this long.
	LeaseTTL time.Duration
}

// DefaultPolicy returns the production retry envelope.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      4,
		InitialBackoff:   time.Second,
		MaxBackoff:       30 * time.Second,
		StageTimeout:     5 * time.Minute,
		ExecutionTimeout: 30 * time.Minute,
		LeaseTTL:         time.Minute,
	}
}

// PolicyFromEnv overrides the defaults with RETRY_* and *_TIMEOUT variables.
func PolicyFromEnv() Policy {
	d := DefaultPolicy()
	return Policy{
		MaxAttempts:      gcp.GetEnvInt("RETRY_MAX_ATTEMPTS", d.MaxAttempts),
		InitialBackoff:   gcp.GetEnvDuration("RETRY_INITIAL_BACKOFF", d.InitialBackoff),
		MaxBackoff:       gcp.GetEnvDuration("RETRY_MAX_BACKOFF", d.MaxBackoff),
		StageTimeout:     gcp.GetEnvDuration("STAGE_TIMEOUT", d.StageTimeout),
		ExecutionTimeout: gcp.GetEnvDuration("EXECUTION_TIMEOUT", d.ExecutionTimeout),
		LeaseTTL:         gcp.GetEnvDuration("EXECUTION_LEASE_TTL", d.LeaseTTL),
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.StageTimeout <= 0 {
		p.StageTimeout = d.StageTimeout
	}
	if p.ExecutionTimeout <= 0 {
		p.ExecutionTimeout = d.ExecutionTimeout
	}
	if p.LeaseTTL <= 0 {
		p.LeaseTTL = d.LeaseTTL
	}
	return p
}

// retry runs fn until it succeeds, fails with a non-retryable error or the
// attempts are used up. Each attempt gets its own StageTimeout; running out
// of the execution budget ends the loop with a Timeout error.
func (p Policy) retry(ctx context.Context, logCtx *slog.Logger, stage string, fn func(context.Context) error) error {
	backoff := p.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, p.StageTimeout)
			defer cancel()
			err := fn(attemptCtx)
			if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				// The stage ran out of time while the execution still has budget.
				return models.Unavailable(stage, err)
			}
			return err
		}()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return models.TimedOut(stage, ctx.Err())
		}

		lastErr = err
		if !models.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		logCtx.Warn(
			"Stage failed, will retry.",
			"stage", stage,
			"attempt", attempt,
			"maxAttempts", p.MaxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, p.MaxBackoff)
		case <-ctx.Done():
			logCtx.Error("Execution budget exhausted during backoff. Aborting retries.", "stage", stage, "error", ctx.Err())
			return models.TimedOut(stage, ctx.Err())
		}
	}
	logCtx.Error("Stage failed after all retries.", "stage", stage, "error", lastErr)
	return lastErr
}
