package container

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryWithBackoff retries op up to maxAttempts times with exponential
// backoff starting at baseBackoff. op returns (retry, err); a nil err ends
// the loop, and retry=false makes err final.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		retry, err := op(attempt)
		attempt++
		if err == nil {
			return nil
		}
		if !retry {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx))

	if err != nil && ctx.Err() != nil && attempt < maxAttempts {
		return fmt.Errorf("retry aborted: %w", ctx.Err())
	}
	return err
}

// IsTransientError reports whether a failed engine command is worth
// retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// 125 is the generic engine failure exit code
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	msg := err.Error()
	for _, s := range []string{
		"OCI runtime error",
		"Temporary failure resolving",
		"Could not resolve host",
		"connection timed out",
		"connection refused",
		"error creating overlay mount",
		"Cannot connect to the Docker daemon",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
