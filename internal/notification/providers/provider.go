// Package providers implements the per-backend notification adapters and
// the process-wide registry that maps a Provider row's class_name to a
// constructor. Adapters keep no per-message state between Send calls; the
// HTTP-based adapters create their client in the constructor, and
// FirebasePushProvider reuses a process-wide app cache. Adapters never touch
// the ledger; persisting the outcome is the Dispatch Engine's job.
package providers

import (
	"context"

	"github.com/irfndi/notifybus/internal/notification/status"
)

// Adapter is the contract every provider back-end driver implements.
type Adapter interface {
	// ValidateConfig verifies the presence of the adapter's required config
	// keys, logging which are missing on failure.
	ValidateConfig() bool

	// Send delivers content to recipients and reports the outcome. It never
	// returns status.Pending; only Sent, Failed, or ConfirmationPending.
	Send(ctx context.Context, recipients []string, content map[string]interface{}) status.State
}

// Constructor builds an Adapter from a Provider row's JSON config.
type Constructor func(config map[string]interface{}) Adapter

// stringField reads a string value out of a JSON-decoded config map.
func stringField(config map[string]interface{}, key string) (string, bool) {
	v, ok := config[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// intField reads an integer out of a JSON-decoded config map; JSON numbers
// decode to float64, so this accepts both float64 and int.
func intField(config map[string]interface{}, key string) (int, bool) {
	v, ok := config[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// missingKeys returns the subset of required that is absent from config.
func missingKeys(config map[string]interface{}, required []string) []string {
	var missing []string
	for _, k := range required {
		if _, ok := config[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}
