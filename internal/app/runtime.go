package app

import (
	"os"
	"strconv"
	"testing"
)

const testModeEnv = "ASSETDESK_TEST_MODE"

// InTestMode reports whether the binaries should return before dialing
// PostgreSQL or Redis. It is true inside go test binaries and whenever
// ASSETDESK_TEST_MODE parses as true.
func InTestMode() bool {
	if testing.Testing() {
		return true
	}
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	return err == nil && on
}
