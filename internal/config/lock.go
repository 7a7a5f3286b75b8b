package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockListenPort takes a process-level lock on the port this role binds, so
// two local instances of the same role never race for it while a Caller and
// a Receiver can still share one host. The returned function releases it.
func LockListenPort(dir string, port int) (func(), error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("p2pcall-%d.lock", port))

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("another call is already listening on port %d", port)
	}

	return func() { _ = fl.Unlock() }, nil
}
