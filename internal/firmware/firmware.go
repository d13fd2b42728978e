// Package firmware implements the sysfs firmware-loading handshake
// drivers use to pull firmware binaries at runtime: the kernel opens
// "loading" and "data" under a device's sysfs directory, and userspace
// finds the named firmware file, copies it into "data", and reports
// success or failure by writing to "loading".
package firmware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/smazurov/ueventd/internal/metrics"
)

// pageSize is the chunk size used when copying the firmware file into
// the kernel's data sysfs attribute.
const pageSize = 4096

// retryInterval is how long the loader sleeps between attempts to locate
// a firmware file while the booting sentinel is present.
const retryInterval = 100 * time.Millisecond

// Result describes the outcome of one firmware load attempt, handed to
// an optional Notifier for the ambient observability surface.
type Result struct {
	DevPath string
	Name    string
	Loaded  bool
	Bytes   int64
	Err     error
}

// Notifier is an opaque observability sink; the device manager's core
// logic does not depend on anything it does.
type Notifier interface {
	FirmwareLoaded(Result)
}

type noopNotifier struct{}

func (noopNotifier) FirmwareLoaded(Result) {}

// Loader performs the sysfs handshake. Trigger spawns one goroutine per
// request -- the Go substitute for the original's fork-per-request
// model -- so a slow or huge firmware copy never blocks the event loop
// that called Trigger.
type Loader struct {
	// SearchDirs are tried in order to locate a named firmware file.
	SearchDirs []string
	// BootingSentinel is the path whose existence gates the retry loop
	// for a firmware file not yet visible (its filesystem likely isn't
	// mounted yet).
	BootingSentinel string
	// SysfsRoot overrides "/sys" for tests.
	SysfsRoot string

	Notifier Notifier
	Logger   *slog.Logger
}

// New creates a Loader with the given search path and booting sentinel.
func New(searchDirs []string, bootingSentinel string, notifier Notifier, logger *slog.Logger) *Loader {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		SearchDirs:      searchDirs,
		BootingSentinel: bootingSentinel,
		SysfsRoot:       "/sys",
		Notifier:        notifier,
		Logger:          logger,
	}
}

// Trigger starts an asynchronous firmware load for devpath/name. The
// caller (the event dispatcher) does not wait for it.
func (l *Loader) Trigger(ctx context.Context, devpath, name string) {
	go l.handle(ctx, devpath, name)
}

func (l *Loader) handle(ctx context.Context, devpath, name string) {
	base := filepath.Join(l.SysfsRoot, devpath)

	loadingFile, err := os.OpenFile(filepath.Join(base, "loading"), os.O_WRONLY, 0)
	if err != nil {
		l.Logger.Debug("firmware loading attribute unavailable, dropping request", "devpath", devpath, "error", err)
		return
	}
	defer loadingFile.Close()

	dataFile, err := os.OpenFile(filepath.Join(base, "data"), os.O_WRONLY, 0)
	if err != nil {
		l.Logger.Debug("firmware data attribute unavailable, dropping request", "devpath", devpath, "error", err)
		return
	}
	defer dataFile.Close()

	fwPath, err := l.locate(ctx, name)
	if err != nil {
		l.fail(loadingFile, devpath, name, err)
		return
	}

	if _, err := loadingFile.WriteString("1"); err != nil {
		l.Logger.Debug("firmware loading=1 write failed", "devpath", devpath, "error", err)
		return
	}

	n, err := l.copy(dataFile, fwPath)
	if err != nil {
		l.fail(loadingFile, devpath, name, err)
		return
	}

	if _, err := loadingFile.WriteString("0"); err != nil {
		l.Logger.Debug("firmware loading=0 write failed", "devpath", devpath, "error", err)
		return
	}

	metrics.FirmwareLoads.WithLabelValues("loaded").Inc()
	metrics.FirmwareBytes.WithLabelValues(name).Add(float64(n))
	l.Notifier.FirmwareLoaded(Result{DevPath: devpath, Name: name, Loaded: true, Bytes: n})
}

func (l *Loader) fail(loadingFile *os.File, devpath, name string, cause error) {
	if _, err := loadingFile.WriteString("-1"); err != nil {
		l.Logger.Debug("firmware loading=-1 write failed", "devpath", devpath, "error", err)
	}
	metrics.FirmwareLoads.WithLabelValues("error").Inc()
	l.Notifier.FirmwareLoaded(Result{DevPath: devpath, Name: name, Loaded: false, Err: cause})
}

var errNotFound = errors.New("firmware: file not found in search path")

// locate tries each search directory in order. If the file isn't found
// anywhere and the booting sentinel exists, it sleeps and retries
// indefinitely until either the file appears or the sentinel is
// removed (at which point it gives up), or the context is cancelled.
func (l *Loader) locate(ctx context.Context, name string) (string, error) {
	for {
		for _, dir := range l.SearchDirs {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}

		if l.BootingSentinel == "" {
			return "", errNotFound
		}
		if _, err := os.Stat(l.BootingSentinel); err != nil {
			return "", errNotFound
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// copy transfers src into dst in page-sized chunks, per the spec's
// "copy in page-sized chunks" requirement, and fails on any short or
// zero-length write, matching the original driver handshake's stance
// that a partial transfer is a load failure, not a partial success.
func (l *Loader) copy(dst io.Writer, srcPath string) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	buf := make([]byte, pageSize)
	// Wrapping both ends hides ReaderFrom/WriterTo, so CopyBuffer really
	// uses buf instead of a file-to-file fast path.
	return io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, buf)
}
