// Package guard rejects duplicate and too-frequent batch submissions.
package guard

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kursadbilgin/label-engine/internal/domain"
)

// SubmissionGuard admits at most one submission per cooldown window per
// session and rejects a repeat of the batch that is still processing.
type SubmissionGuard interface {
	Acquire(ctx context.Context, sessionID, fingerprint string) error
	Release(ctx context.Context, sessionID, fingerprint string) error
}

// CooldownError reports how long the operator has to wait.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("please wait %d seconds before generating another label", e.Seconds())
}

func (e *CooldownError) Unwrap() error { return domain.ErrCooldown }

// Seconds rounds the remaining wait up to whole seconds.
func (e *CooldownError) Seconds() int {
	if e == nil || e.Remaining <= 0 {
		return 0
	}
	return int(math.Ceil(e.Remaining.Seconds()))
}
