// Package test has helpers shared by tests.
package test

import (
	"os"
	"testing"
)

const EnvIntegration = "MAESTRO_INTEGRATION"

// Integration skips the test unless MAESTRO_INTEGRATION is set.
// Integration tests drive a real browser binary.
func Integration(t *testing.T) {
	t.Helper()
	if os.Getenv(EnvIntegration) == "" {
		t.Skipf("skipping integration test, set %s to run", EnvIntegration)
	}
}
