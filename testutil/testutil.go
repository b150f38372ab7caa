package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kbukum/conduit/cachestore"
	"github.com/kbukum/conduit/component"
	"github.com/kbukum/conduit/logger"
)

// StartComponent starts c and stops it during test cleanup. A failing
// start or stop fails the test.
func StartComponent(t testing.TB, c component.Component) {
	t.Helper()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start %s: %v", c.Name(), err)
	}
	t.Cleanup(func() {
		if err := c.Stop(context.Background()); err != nil {
			t.Errorf("stop %s: %v", c.Name(), err)
		}
	})
}

// StoreConfig returns a cache store config on a fresh SQLite file in the
// test's temporary directory, with GORM logging silenced.
func StoreConfig(t testing.TB) cachestore.Config {
	t.Helper()
	return cachestore.Config{
		Enabled:  true,
		DSN:      filepath.Join(t.TempDir(), "cache.db"),
		LogLevel: "silent",
	}
}

// OpenStore starts a cache store component on StoreConfig and returns its store.
func OpenStore(t testing.TB) *cachestore.Store {
	t.Helper()
	c := cachestore.NewComponent(StoreConfig(t), logger.Nop())
	StartComponent(t, c)
	return c.Store()
}
