// Package subscription defines the billing subscription read-model.
//
// Subscriptions are owned and mutated by the billing collaborators; the
// tenancy control plane only ever reads them to derive lifecycle state.
package subscription

import "time"

// Status is the raw gateway status string as the billing system stores it.
type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusUnpaid   Status = "unpaid"
	StatusCanceled Status = "canceled"
	// StatusCancelled is the British spelling some gateways emit. Both are
	// accepted everywhere a cancellation is checked.
	StatusCancelled Status = "cancelled"
)

// Cancelled reports whether s is either spelling of a cancelled status.
func (s Status) Cancelled() bool {
	return s == StatusCanceled || s == StatusCancelled
}

// Delinquent reports whether s marks an unpaid or past-due subscription.
func (s Status) Delinquent() bool {
	return s == StatusPastDue || s == StatusUnpaid
}

// Subscription holds the billing facts for one tenant. At most one row
// exists per tenant; a tenant may have none at all.
type Subscription struct {
	ID                  string     `json:"id"`
	TenantID            string     `json:"tenant_id"`
	Plan                string     `json:"plan"`
	Status              Status     `json:"status"`
	IsTrial             bool       `json:"is_trial"`
	TrialEndsAt         *time.Time `json:"trial_ends_at,omitempty"`
	BillingPeriodEndsAt *time.Time `json:"billing_period_ends_at,omitempty"`
	NextRenewalAt       *time.Time `json:"next_renewal_at,omitempty"`
	UserLimit           int        `json:"user_limit"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
