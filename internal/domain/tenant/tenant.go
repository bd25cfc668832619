// Package tenant defines the tenant domain model for the central registry.
package tenant

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/chronahq/tenancy/internal/domain/lifecycle"
)

// Status is the operational status flag on the central tenant record. It is
// distinct from the derived lifecycle state: Status says what the control
// plane has done with the tenant, lifecycle.State says what billing facts
// imply about it.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusActive       Status = "active"
	StatusSuspended    Status = "suspended"
	StatusDeactivated  Status = "deactivated"
)

// ValidStatuses is the set of all valid tenant statuses.
var ValidStatuses = map[Status]bool{
	StatusProvisioning: true,
	StatusActive:       true,
	StatusSuspended:    true,
	StatusDeactivated:  true,
}

// Tenant is one isolated customer workspace. Each tenant owns a dedicated
// physical database whose name derives deterministically from the id.
type Tenant struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Plan       string `json:"plan"`
	OwnerName  string `json:"owner_name"`
	OwnerEmail string `json:"owner_email"`

	TrialEndsAt            *time.Time `json:"trial_ends_at,omitempty"`
	DeactivatedAt          *time.Time `json:"deactivated_at,omitempty"`
	ScheduledForDeletionAt *time.Time `json:"scheduled_for_deletion_at,omitempty"`
	DataRetentionUntil     *time.Time `json:"data_retention_until,omitempty"`

	// SubscriptionState is the cached derived lifecycle state. It is a
	// convenience copy; anything that matters re-derives from subscription
	// facts instead of trusting it.
	SubscriptionState              lifecycle.State `json:"subscription_state,omitempty"`
	SubscriptionLastStatusChangeAt *time.Time      `json:"subscription_last_status_change_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DatabaseName returns the tenant's physical database name: the configured
// prefix followed by the id with dashes stripped. Returns "" when the id is
// empty; callers must treat that as a configuration error before touching
// any connection.
func (t *Tenant) DatabaseName(prefix string) string {
	if t == nil || t.ID == "" {
		return ""
	}
	return prefix + strings.ToLower(strings.ReplaceAll(t.ID, "-", ""))
}

// Domain maps a hostname to a tenant. Every tenant gets a default
// <slug>.<base domain> row at provisioning time.
type Domain struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Domain    string    `json:"domain"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows registry listings.
type Filter struct {
	Status Status
}

// SignupRequest is the input for registering a new tenant, whether through
// the signup endpoint or the operator CLI.
type SignupRequest struct {
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	OwnerName  string `json:"owner_name"`
	OwnerEmail string `json:"owner_email"`
	Password   string `json:"password"` //nolint:gosec // request field, not a hardcoded secret
	Plan       string `json:"plan,omitempty"`
}

// Validate checks that the SignupRequest has all required fields.
func (r *SignupRequest) Validate() error {
	if r.Slug == "" {
		return errors.New("slug is required")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	if r.OwnerEmail == "" {
		return errors.New("owner email is required")
	}
	if _, err := mail.ParseAddress(r.OwnerEmail); err != nil {
		return errors.New("invalid owner email format")
	}
	if r.Password == "" {
		return errors.New("password is required")
	}
	if len(r.Password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}
