package application

import (
	"fmt"
	"time"

	"github.com/nlecoy/recheck/internal/domain/model"
)

// checkPolicy carries the policy values resolved for a single check.
type checkPolicy struct {
	maxRetries    int
	maxRetryDelay time.Duration
}

// classifyCheck assigns one observed check to its disposition bucket and
// returns the check record with its failure accounting brought up to date.
// Classification touches no storage; the caller persists the record.
func classifyCheck(obs model.Observation, check model.Check, policy checkPolicy, now time.Time) (model.Bucket, model.Check, error) {
	switch obs.State {
	case model.CheckStateSuccess:
		return model.BucketSuccessful, check, nil

	case model.CheckStatePending:
		return model.BucketPending, check, nil

	case model.CheckStateError:
		if check.LastErroredID != nil && *check.LastErroredID == obs.EventID {
			// Same failure event as last cycle: the retry we dispatched has
			// not produced a fresh result yet.
			if check.FailureCount > policy.maxRetries {
				return model.BucketTooManyFailures, check, nil
			}
			if check.LastRetriedAt == nil || now.Sub(*check.LastRetriedAt) > policy.maxRetryDelay {
				return model.BucketRetrying, check, nil
			}
			return model.BucketRetryPending, check, nil
		}

		// A failure event we have not accounted for yet. Count it, and retry
		// without cooldown gating: a brand-new failure deserves an immediate
		// attempt.
		check.FailureCount++
		id := obs.EventID
		check.LastErroredID = &id
		if check.FailureCount > policy.maxRetries {
			return model.BucketTooManyFailures, check, nil
		}
		return model.BucketRetrying, check, nil

	default:
		return "", check, fmt.Errorf("classifying check %q: %w: %q", obs.Context, model.ErrUnknownCheckState, obs.State)
	}
}
