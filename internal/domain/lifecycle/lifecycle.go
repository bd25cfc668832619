// Package lifecycle derives a tenant's billing-lifecycle state from raw
// subscription facts. Derivation is a pure function: same inputs, same
// state, no clock or database access.
package lifecycle

import (
	"time"

	"github.com/chronahq/tenancy/internal/domain/subscription"
)

// State is the derived lifecycle classification of a tenant, distinct from
// the raw gateway status string on the subscription.
type State string

const (
	StateActive    State = "active"
	StateTrial     State = "trial"
	StateExpired   State = "expired"
	StatePastDue   State = "past_due"
	StateCancelled State = "cancelled"
)

// States lists every valid derived state.
var States = []State{StateActive, StateTrial, StateExpired, StatePastDue, StateCancelled}

// Valid reports whether s is a known derived state.
func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// Retainable reports whether a tenant in state s is protected from
// retention scheduling and purging.
func (s State) Retainable() bool {
	return s == StateActive || s == StateTrial
}

// Derive classifies a tenant from its subscription facts at the given
// instant. prev is the previously persisted state ("" when none was ever
// stored); tenantTrialEndsAt is the trial deadline recorded on the tenant
// row itself, used only when no subscription exists.
//
// The rules below run strictly in order and each later rule overwrites the
// result of earlier ones when its condition holds. The order is load
// bearing: a cancelled subscription whose billing period also lapsed must
// classify as cancelled, not expired, and the final active check can
// reclassify a period-lapsed but genuinely current paid subscription back
// to active. Do not reorder or merge the rules into a lookup table.
func Derive(prev State, sub *subscription.Subscription, tenantTrialEndsAt *time.Time, now time.Time) State {
	state := prev
	if state == "" {
		state = StateActive
	}

	if sub != nil {
		if sub.IsTrial {
			if sub.TrialEndsAt != nil && sub.TrialEndsAt.After(now) {
				state = StateTrial
			} else {
				state = StateExpired
			}
		}

		if sub.BillingPeriodEndsAt != nil && sub.BillingPeriodEndsAt.Before(now) {
			state = StateExpired
		}

		if sub.Status.Delinquent() {
			state = StatePastDue
		}

		if sub.Status.Cancelled() {
			state = StateCancelled
		}

		periodCurrent := sub.BillingPeriodEndsAt == nil || sub.BillingPeriodEndsAt.After(now)
		renewalAhead := sub.NextRenewalAt != nil && sub.NextRenewalAt.After(now)
		if sub.Status == subscription.StatusActive && !sub.IsTrial && (periodCurrent || renewalAhead) {
			state = StateActive
		}

		return state
	}

	if tenantTrialEndsAt != nil && tenantTrialEndsAt.Before(now) {
		return StateExpired
	}
	return state
}
