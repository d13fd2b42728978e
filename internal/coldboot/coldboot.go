// Package coldboot replays device-add events for everything already
// present in /sys when the device manager starts, by walking the sysfs
// tree and poking each directory's "uevent" attribute. The kernel
// responds by re-emitting the same netlink event it would have sent had
// the device manager been running at boot.
package coldboot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Drainer drains whatever is currently queued on the netlink socket.
// Walker calls it after every "uevent" poke so the burst of replayed
// events this produces never overruns the socket buffer.
// *socket.Socket satisfies this.
type Drainer interface {
	Drain(handle func(msg []byte)) error
}

// Roots are walked, in order, on every coldboot pass.
var Roots = []string{"/sys/class", "/sys/block", "/sys/devices"}

// Walker performs the recursive walk-and-poke. The fs fields are
// indirected so tests can point it at a temporary tree without needing
// root or a real sysfs mount.
type Walker struct {
	Drainer Drainer
	Handle  func(msg []byte)
	Logger  *slog.Logger

	readDir    func(dir string) ([]os.DirEntry, error)
	openUevent func(path string) (*os.File, error)
	stat       func(path string) (os.FileInfo, error)
	create     func(path string) (*os.File, error)
}

// New creates a Walker backed by the real filesystem.
func New(drainer Drainer, handle func(msg []byte), logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{
		Drainer:    drainer,
		Handle:     handle,
		Logger:     logger,
		readDir:    os.ReadDir,
		openUevent: func(path string) (*os.File, error) { return os.OpenFile(path, os.O_WRONLY, 0) },
		stat:       os.Stat,
		create:     func(path string) (*os.File, error) { return os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0000) },
	}
}

// Run walks every entry in Roots unless sentinelPath already exists, in
// which case it does nothing; after a completed walk it creates
// sentinelPath so subsequent starts skip coldboot.
func (w *Walker) Run(sentinelPath string) error {
	if _, err := w.stat(sentinelPath); err == nil {
		w.Logger.Info("skipping coldboot, already done", "sentinel", sentinelPath)
		return nil
	}

	for _, root := range Roots {
		w.walk(root)
	}

	f, err := w.create(sentinelPath)
	if err != nil {
		return fmt.Errorf("coldboot: create sentinel: %w", err)
	}
	return f.Close()
}

// walk pokes dir's own uevent attribute, draining after, then recurses
// into every subdirectory whose name doesn't start with '.'. Symlinks
// are not followed -- matching the underlying directory-entry type
// check this is grounded on, which only recurses into real
// subdirectories, the same reason /sys/class's per-subsystem symlinks
// are never descended into directly; their targets are reached again
// through the /sys/devices walk.
func (w *Walker) walk(dir string) {
	entries, err := w.readDir(dir)
	if err != nil {
		return
	}

	if f, err := w.openUevent(filepath.Join(dir, "uevent")); err == nil {
		_, writeErr := f.WriteString("add\n")
		f.Close()
		if writeErr != nil {
			w.Logger.Debug("coldboot uevent write failed", "dir", dir, "error", writeErr)
		}
		if err := w.Drainer.Drain(w.Handle); err != nil {
			w.Logger.Debug("coldboot drain failed", "dir", dir, "error", err)
		}
	}

	for _, e := range entries {
		name := e.Name()
		if name == "" || name[0] == '.' || !e.IsDir() {
			continue
		}
		w.walk(filepath.Join(dir, name))
	}
}
