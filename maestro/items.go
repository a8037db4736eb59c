package maestro

import (
	"errors"
	"fmt"
)

var (
	errItemCountsIncomplete = errors.New("at least two of total, processed and failed item counts are required")
	errItemCountsMismatch   = errors.New("total items is not equal to the sum of processed and failed items")
)

// reconcileItems normalizes the item counters reported on task finish.
// Negative counts clamp to zero before any other rule. All three nil means
// the caller reports nothing. Given any two, the third is derived; given all
// three, they must agree. One or zero known counts cannot be reconciled.
func reconcileItems(total, processed, failed *int) (*int, *int, *int, error) {
	total = clampItem(total)
	processed = clampItem(processed)
	failed = clampItem(failed)

	if total == nil && processed == nil && failed == nil {
		return nil, nil, nil, nil
	}

	if total == nil && processed != nil && failed != nil {
		total = Int(*processed + *failed)
	}
	if processed == nil && total != nil && failed != nil {
		processed = Int(*total - *failed)
	}
	if failed == nil && total != nil && processed != nil {
		failed = Int(*total - *processed)
	}

	if total == nil || processed == nil || failed == nil {
		return nil, nil, nil, errItemCountsIncomplete
	}
	if *total != *processed+*failed {
		return nil, nil, nil, fmt.Errorf("%w: total %d, processed %d, failed %d",
			errItemCountsMismatch, *total, *processed, *failed)
	}
	return total, processed, failed, nil
}

func clampItem(v *int) *int {
	if v != nil && *v < 0 {
		return Int(0)
	}
	return v
}

// Int returns a pointer to v, for filling the optional ItemCounts fields.
func Int(v int) *int {
	return &v
}
