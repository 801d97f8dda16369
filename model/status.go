package model

// DeriveBatchStatus computes a batch status from its holder entries.
//
// A batch stays IN_PROGRESS while any holder is unresolved: PENDING, RETRYING,
// FAILED with retries left, or not yet materialized while page attempts
// remain. Holders that were planned but never materialized count as failed
// once the page attempts are exhausted.
func DeriveBatchStatus(batch BatchPayout, holders []Holder, policy RetryPolicy) BatchPayoutStatus {
	var succeeded, exhausted, unresolved int
	for _, h := range holders {
		switch {
		case h.Status == HolderStatusSuccess:
			succeeded++
		case h.IsExhausted(policy):
			exhausted++
		default:
			unresolved++
		}
	}

	if missing := batch.HoldersNumber - len(holders); missing > 0 {
		if policy.Exhausted(batch.Attempts) {
			exhausted += missing
		} else {
			unresolved += missing
		}
	}

	switch {
	case unresolved > 0:
		return BatchStatusInProgress
	case exhausted == 0:
		return BatchStatusCompleted
	case succeeded > 0:
		return BatchStatusPartiallyCompleted
	default:
		return BatchStatusFailed
	}
}

// DeriveDistributionStatus aggregates batch statuses. ok is false when there
// are no batches to aggregate.
func DeriveDistributionStatus(batches []BatchPayout) (status DistributionStatus, ok bool) {
	if len(batches) == 0 {
		return "", false
	}

	var completed, failed int
	for _, b := range batches {
		switch b.Status {
		case BatchStatusCompleted:
			completed++
		case BatchStatusFailed:
			failed++
		case BatchStatusPartiallyCompleted:
		default:
			return DistributionStatusInProgress, true
		}
	}

	switch {
	case completed == len(batches):
		return DistributionStatusCompleted, true
	case failed == len(batches):
		return DistributionStatusFailed, true
	default:
		return DistributionStatusPartiallyCompleted, true
	}
}
