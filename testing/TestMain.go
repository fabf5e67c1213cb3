package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ACCESSCTL_TEST_MODE", "1")
		if os.Getenv("AUTHZ_CACHE_BACKEND") == "" {
			_ = os.Setenv("AUTHZ_CACHE_BACKEND", "none")
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
