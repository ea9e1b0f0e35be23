package daemon

import (
	"fmt"
	"os"
	"syscall"
)

// AcquirePIDLock takes an exclusive flock on the daemon pid file and
// writes the current pid into it. The returned handle must stay open for
// the process lifetime.
func AcquirePIDLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("daemon: open pid file %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("daemon: another CID daemon is running for this project (lock: %s)", path)
	}

	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

// ReleasePIDLock drops the lock and removes the pid file.
func ReleasePIDLock(f *os.File) {
	if f == nil {
		return
	}
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	name := f.Name()
	f.Close()
	os.Remove(name)
}
