// Package testing switches the application into test mode when imported by tests.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("SCHOOLHUB_TEST_MODE", "1")
		if os.Getenv("AUDIT_HASH_KEY") == "" {
			_ = os.Setenv("AUDIT_HASH_KEY", "test-audit-hash-key-0123456789ab")
		}
		if os.Getenv("LOG_FORMAT") == "" {
			_ = os.Setenv("LOG_FORMAT", "text")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
