package instance

import (
	"os"

	"github.com/angelmondragon/cardsync-backend/pkg/env"
)

// GetID identifies the running process in logs. CARDSYNC_INSTANCE_ID wins,
// then the platform dyno name, then the host name.
func GetID(fallback string) string {
	if id := env.First("", "CARDSYNC_INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}
