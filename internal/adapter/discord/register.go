package discord

import "github.com/chronahq/tenancy/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(settings map[string]string) (notifier.Notifier, error) {
		return NewNotifier(settings["webhook_url"]), nil
	})
}
