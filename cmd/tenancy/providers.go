package main

// Each blank import activates a self-registering notifier provider.
// Add new providers here as they are implemented.

import (
	_ "github.com/chronahq/tenancy/internal/adapter/discord"
	_ "github.com/chronahq/tenancy/internal/adapter/email"
	_ "github.com/chronahq/tenancy/internal/adapter/slack"
)
