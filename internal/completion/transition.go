// Package completion receives out-of-band worker callbacks and moves jobs
// to their terminal state.
package completion

import (
	"encoding/json"

	"github.com/mealforge/backend/internal/models"
)

// Outcome is the worker's report for one job.
type Outcome struct {
	Success bool
	Result  json.RawMessage
	Error   string
}

// Effect is a side effect the caller must perform after a transition.
type Effect int

const (
	EffectStoreSuccess Effect = iota
	EffectStoreError
	EffectRefund
)

// Apply computes the transition for an incoming outcome. It is a pure
// function of (current status, outcome): the transport never matters.
// Terminal jobs yield no effects, so duplicated callbacks are no-ops.
// A worker-reported failure yields a refund effect — the credit paid for
// an attempt that delivered no value.
func Apply(status string, out Outcome) (next string, effects []Effect) {
	switch status {
	case models.JobStatusSuccess, models.JobStatusError:
		return status, nil
	}
	if out.Success {
		return models.JobStatusSuccess, []Effect{EffectStoreSuccess}
	}
	return models.JobStatusError, []Effect{EffectStoreError, EffectRefund}
}
