package email

import (
	"strconv"

	"github.com/chronahq/tenancy/internal/port/notifier"
)

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		port, err := strconv.Atoi(config["port"])
		if err != nil {
			port = 587
		}
		return NewNotifier(SMTPConfig{
			Host:     config["host"],
			Port:     port,
			From:     config["from"],
			Password: config["password"],
			To:       config["to"],
		}), nil
	})
}
