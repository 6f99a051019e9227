package mediasvc

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mkrupp/mediavault/internal/domain"
)

var errWinnerPending = errors.New("winner pending")

// jitterBackOff adds up to jitter of random delay to every interval and never
// waits past budget, counted from the last Reset.
type jitterBackOff struct {
	backoff.BackOff

	jitter   time.Duration
	budget   time.Duration
	deadline time.Time
}

func (b *jitterBackOff) Reset() {
	b.BackOff.Reset()
	b.deadline = time.Now().Add(b.budget)
}

func (b *jitterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}

	if b.jitter > 0 {
		next += rand.N(b.jitter + 1) //nolint:gosec
	}

	remaining := time.Until(b.deadline)
	if remaining <= 0 {
		return backoff.Stop
	}

	return min(next, remaining)
}

func (svc *UploadService) newWaitPolicy(ctx context.Context) backoff.BackOff {
	if svc.cfg.DedupeWaitMaxMs == 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx) // single lookup
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = time.Duration(svc.cfg.DedupeWaitInitialBackoffMs) * time.Millisecond
	exp.MaxInterval = time.Duration(svc.cfg.DedupeWaitMaxBackoffMs) * time.Millisecond
	exp.MaxElapsedTime = time.Duration(svc.cfg.DedupeWaitMaxMs) * time.Millisecond
	exp.RandomizationFactor = 0
	exp.Multiplier = 2

	policy := &jitterBackOff{
		BackOff: exp,
		jitter:  time.Duration(svc.cfg.DedupeWaitJitterMs) * time.Millisecond,
		budget:  exp.MaxElapsedTime,
	}
	policy.Reset()

	return backoff.WithContext(policy, ctx)
}

// waitForWinner polls for the record of a concurrent upload holding the claim.
// It returns found=false once the wait budget is spent or the lookup fails;
// only a cancelled context is returned as an error.
func (svc *UploadService) waitForWinner(ctx context.Context, sha256 string) (*domain.MediaFile, bool, error) {
	var winner *domain.MediaFile

	start := time.Now()
	defer func() { svc.metrics.DedupeWait(time.Since(start)) }()

	err := backoff.Retry(func() error {
		file, found, err := svc.repo.FindBySHA256(ctx, sha256)
		if err != nil {
			return backoff.Permanent(err)
		}

		if !found {
			return errWinnerPending
		}

		winner = file

		return nil
	}, svc.newWaitPolicy(ctx))

	switch {
	case err == nil:
		return winner, true, nil
	case ctx.Err() != nil:
		return nil, false, ctx.Err() //nolint:wrapcheck
	case errors.Is(err, errWinnerPending):
		svc.log.WarnContext(ctx, "dedupe wait timed out", "sha256", sha256, "waited", time.Since(start))
	default:
		svc.log.WarnContext(ctx, "dedupe wait lookup failed", "sha256", sha256, "error", err)
	}

	return nil, false, nil
}
