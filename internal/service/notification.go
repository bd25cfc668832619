package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chronahq/tenancy/internal/port/audit"
	"github.com/chronahq/tenancy/internal/port/notifier"
)

// NotificationService fans operator notifications out to every configured
// provider. It also implements audit.Sink, so wiring it into the audit
// fan-out turns selected audit events into notifications.
type NotificationService struct {
	targets []notifier.Notifier
	wanted  map[string]struct{}
}

// NewNotificationService builds the fan-out. enabledEvents narrows delivery
// to the listed sources ("provision.failed", "purge.completed", ...); an
// empty list delivers everything.
func NewNotificationService(targets []notifier.Notifier, enabledEvents []string) *NotificationService {
	s := &NotificationService{targets: targets}
	if len(enabledEvents) > 0 {
		s.wanted = make(map[string]struct{}, len(enabledEvents))
		for _, e := range enabledEvents {
			s.wanted[e] = struct{}{}
		}
	}
	return s
}

func (s *NotificationService) wants(source string) bool {
	if s.wanted == nil {
		return true
	}
	_, ok := s.wanted[source]
	return ok
}

// Notify delivers n to every provider. A failing provider is logged and
// skipped so one dead webhook cannot silence the rest.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	if !s.wants(n.Source) {
		return
	}
	for _, target := range s.targets {
		if err := target.Send(ctx, n); err != nil {
			slog.Warn("notification delivery failed",
				"provider", target.Name(),
				"source", n.Source,
				"error", err,
			)
			continue
		}
		slog.Debug("notification delivered", "provider", target.Name(), "source", n.Source)
	}
}

// NotifierCount reports how many providers are configured.
func (s *NotificationService) NotifierCount() int {
	return len(s.targets)
}

// Record implements audit.Sink, letting the service sit on the audit
// fan-out and forward operator-relevant events as notifications. Failures
// always qualify; completed provisions, purges and deletes do too.
func (s *NotificationService) Record(ctx context.Context, e audit.Event) error {
	if n, ok := auditNotification(e); ok {
		s.Notify(ctx, n)
	}
	return nil
}

func auditNotification(e audit.Event) (notifier.Notification, bool) {
	subject := e.TenantSlug
	if subject == "" {
		subject = "registry"
	}

	switch {
	case e.Outcome == audit.OutcomeFailed:
		return notifier.Notification{
			Title:   fmt.Sprintf("%s failed for %s", e.Action, subject),
			Message: e.Error,
			Level:   notifier.LevelError,
			Source:  string(e.Action) + ".failed",
		}, true
	case e.Action == audit.ActionProvision && e.Outcome == audit.OutcomeOK && e.Detail["completed"] == true:
		return notifier.Notification{
			Title:   "tenant provisioned: " + subject,
			Message: fmt.Sprintf("provisioning pipeline completed for %s", subject),
			Level:   notifier.LevelSuccess,
			Source:  "provision.completed",
		}, true
	case e.Action == audit.ActionPurge && e.Outcome == audit.OutcomeOK:
		return notifier.Notification{
			Title:   "tenant purged: " + subject,
			Message: fmt.Sprintf("database and central record removed for %s", subject),
			Level:   notifier.LevelInfo,
			Source:  "purge.completed",
		}, true
	case e.Action == audit.ActionDelete && e.Outcome == audit.OutcomeOK:
		return notifier.Notification{
			Title:   "tenant deleted: " + subject,
			Message: fmt.Sprintf("destroy completed for %s", subject),
			Level:   notifier.LevelInfo,
			Source:  "delete.completed",
		}, true
	}
	return notifier.Notification{}, false
}
