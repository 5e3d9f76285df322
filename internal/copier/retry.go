package copier

import (
	"github.com/vitebski/db-replicator/pkg/models"
)

// CopyWithRetry wraps CopyByKeyInterval with a bounded fixed-delay retry
// policy. Each retry resumes from the last returned key with truncation
// forced off, so intervals committed by earlier attempts are never
// replayed. Validation, schema and connection errors are returned as-is
// and never retried. The returned state accumulates rows across attempts;
// exhausting the policy reports failure in the state, it does not raise.
func (c *Copier) CopyWithRetry(job models.KeyCopyJob, policy models.BackoffPolicy) (models.CopyState, error) {
	state, err := c.CopyByKeyInterval(job)
	if err != nil {
		return state, err
	}

	total := state.RowsInserted
	for attempt := 1; !state.Succeeded && attempt <= policy.Retries; attempt++ {
		c.Logger.Infof("Key-interval copy failed at key %d", state.NextKey)
		c.Logger.Infof("Retry %d of %d in %s...", attempt, policy.Retries, policy.Delay)
		c.sleep(policy.Delay)

		job.KeyStart = state.NextKey
		job.Truncate = false
		state, err = c.CopyByKeyInterval(job)
		if err != nil {
			state.RowsInserted = total + state.RowsInserted
			return state, err
		}
		total += state.RowsInserted
	}

	state.RowsInserted = total
	if state.Succeeded {
		c.Logger.Info("Key-interval copy finished successfully")
	} else {
		c.Logger.Infof("Key-interval copy still failing after %d retries", policy.Retries)
	}

	return state, nil
}
