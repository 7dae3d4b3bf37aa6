//go:build windows

package lock

import (
	"errors"
	"os"
)

// errUnsupported is returned on platforms without flock(2); leave
// tool.lock_file empty there.
var errUnsupported = errors.New("file locking is not supported on windows")

func lockFile(*os.File, bool) error { return errUnsupported }

func unlockFile(*os.File) error { return nil }
