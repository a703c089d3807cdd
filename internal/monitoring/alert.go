package monitoring

import (
	"github.com/rs/zerolog/log"
)

// ReloadAlert raises an operator alert about the reload pipeline (logs for now)
func ReloadAlert(message string, labels map[string]string) {
	log.Error().
		Str("alert", message).
		Fields(labels).
		Msg("ALERT: Tenant cache reload issue detected")
}
