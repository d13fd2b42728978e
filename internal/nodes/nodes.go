// Package nodes implements DeviceNodeFactory: creation and removal of
// /dev nodes and their symlinks, including the permission lookup,
// SELinux labeling hook, and the setegid/mknod/chown race-narrowing
// sequence the original driver uses.
package nodes

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/smazurov/ueventd/internal/permrules"
	"github.com/smazurov/ueventd/internal/platform"
)

// RootGID is the group the effective gid is restored to after every
// mknod, on every code path including error -- the "gid-before-mknod"
// discipline the original narrows a creation race with.
const RootGID = 0

// PropertySink publishes ctl.dev_added/ctl.dev_removed. It is an opaque
// collaborator; the default LogSink only logs.
type PropertySink interface {
	DevAdded(path string)
	DevRemoved(path string)
}

// LogSink is the default PropertySink: it only logs, the behaviour
// appropriate for a build with no property service wired in.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) DevAdded(path string) {
	if s.Logger != nil {
		s.Logger.Debug("ctl.dev_added", "path", path)
	}
}

func (s LogSink) DevRemoved(path string) {
	if s.Logger != nil {
		s.Logger.Debug("ctl.dev_removed", "path", path)
	}
}

// Labeler resolves and applies a SELinux file-creation context ahead of
// a mknod call. The returned clear func must always be called, even on
// a resolution failure, and is a no-op when nothing was set.
type Labeler interface {
	SetFileCreateContext(path string, mode os.FileMode) (clear func(), err error)
}

// NoopLabeler is the default Labeler for builds without SELinux support.
type NoopLabeler struct{}

func (NoopLabeler) SetFileCreateContext(string, os.FileMode) (func(), error) {
	return func() {}, nil
}

// osOps isolates the syscalls Factory performs so tests can substitute
// fakes without requiring CAP_MKNOD/root.
type osOps struct {
	setegid  func(gid int) error
	mknod    func(path string, mode uint32, dev int) error
	chown    func(path string, uid, gid int) error
	symlink  func(oldname, newname string) error
	remove   func(path string) error
	mkdirAll func(path string, perm os.FileMode) error
}

// Factory creates and removes device nodes and their symlinks.
type Factory struct {
	Rules   *permrules.Rules
	Labeler Labeler
	Sink    PropertySink
	Logger  *slog.Logger

	ops osOps
}

// New creates a device node factory backed by real syscalls.
func New(rules *permrules.Rules, labeler Labeler, sink PropertySink, logger *slog.Logger) *Factory {
	if labeler == nil {
		labeler = NoopLabeler{}
	}
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		Rules:   rules,
		Labeler: labeler,
		Sink:    sink,
		Logger:  logger,
		ops:     platformOps(),
	}
}

// Add creates a device node at devpath and every symlink in links
// pointing at it, following the spec's ordering: node first, then
// ctl.dev_added, then symlinks. When major or minor is negative -- as
// with firmware and many generic/usb-interface add events -- no node
// exists to create, so only ctl.dev_added and the symlinks happen.
func (f *Factory) Add(devpath string, major, minor int, block bool, links []string) error {
	if major >= 0 && minor >= 0 {
		perm, uid, gid := f.Rules.LookupDev(devpath)

		clear, err := f.Labeler.SetFileCreateContext(devpath, perm)
		if err != nil {
			f.Logger.Debug("selinux label resolution failed, proceeding unlabeled", "path", devpath, "error", err)
		}
		defer clear()

		if err := f.ops.mkdirAll(filepath.Dir(devpath), 0755); err != nil {
			return fmt.Errorf("nodes: create parent dir for %s: %w", devpath, err)
		}

		dev := makedev(major, minor)
		mode := nodeTypeBits(block) | uint32(perm.Perm())

		if err := f.ops.setegid(gid); err != nil {
			return fmt.Errorf("nodes: setegid(%d): %w", gid, err)
		}
		mknodErr := f.ops.mknod(devpath, mode, dev)
		var chownErr error
		if mknodErr == nil {
			chownErr = f.ops.chown(devpath, uid, -1)
		}
		if err := f.ops.setegid(RootGID); err != nil {
			f.Logger.Warn("failed to restore effective gid to root after mknod", "error", err)
		}

		if mknodErr != nil {
			return fmt.Errorf("nodes: mknod %s: %w", devpath, mknodErr)
		}
		if chownErr != nil {
			f.Logger.Warn("chown failed after mknod", "path", devpath, "error", chownErr)
		}
	}

	f.Sink.DevAdded(devpath)

	for _, link := range links {
		if err := f.ops.mkdirAll(filepath.Dir(link), 0755); err != nil {
			f.Logger.Warn("failed to create symlink parent dir", "link", link, "error", err)
			continue
		}
		_ = f.ops.remove(link)
		if err := f.ops.symlink(devpath, link); err != nil {
			f.Logger.Warn("failed to create symlink", "link", link, "target", devpath, "error", err)
		}
	}

	return nil
}

// Remove unlinks every symlink in links, publishes ctl.dev_removed, and
// finally unlinks the node itself if major/minor are valid -- the
// reverse order of Add.
func (f *Factory) Remove(devpath string, major, minor int, links []string) {
	for _, link := range links {
		if err := f.ops.remove(link); err != nil && !os.IsNotExist(err) {
			f.Logger.Warn("failed to remove symlink", "link", link, "error", err)
		}
	}

	f.Sink.DevRemoved(devpath)

	if major >= 0 && minor >= 0 {
		if err := f.ops.remove(devpath); err != nil && !os.IsNotExist(err) {
			f.Logger.Warn("failed to remove device node", "path", devpath, "error", err)
		}
	}
}

// sanitize replaces any byte outside [A-Za-z0-9_.-] with '_', used when
// composing by-name symlink components from partition names.
var sanitizePattern = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

func sanitize(name string) string {
	return sanitizePattern.ReplaceAllString(name, "_")
}

// BlockLinks computes the symlinks for a block device event, following
// the GPT-rule-suppresses-platform-links behaviour: if installIDPrefix
// is non-empty and a prefix of partName, only the GPT by-name link is
// returned. bus is the zero Node when no platform ancestor was found.
func BlockLinks(path, basename, partName string, partNum int, bus platform.Node, hasBus bool, installIDPrefix string) []string {
	if installIDPrefix != "" && strings.HasPrefix(partName, installIDPrefix) {
		suffix := partName[len(installIDPrefix):]
		return []string{"/dev/block/by-name/" + suffix}
	}

	if !hasBus {
		return nil
	}

	var links []string
	if partName != "" {
		links = append(links, fmt.Sprintf("/dev/block/platform/%s/by-name/%s", bus.Name, sanitize(partName)))
	}
	if partNum >= 0 {
		links = append(links, fmt.Sprintf("/dev/block/platform/%s/by-num/p%d", bus.Name, partNum))
	}
	links = append(links, fmt.Sprintf("/dev/block/platform/%s/%s", bus.Name, basename))
	return links
}

// CharLinks computes the character-device symlink for devices that live
// on a known platform bus under a /usb subpath: it skips the root-hub
// and device path segments after "/usb" and uses the following segment
// as the interface identifier.
func CharLinks(subsystem, devpath string, hasBus bool) []string {
	if !hasBus {
		return nil
	}
	idx := strings.Index(devpath, "/usb")
	if idx < 0 {
		return nil
	}
	rest := strings.TrimPrefix(devpath[idx+len("/usb"):], "/")
	segments := strings.Split(rest, "/")
	// Skip the root-hub and device segments; the next one is the
	// interface identifier.
	if len(segments) < 3 {
		return nil
	}
	iface := segments[2]
	return []string{fmt.Sprintf("/dev/usb/%s%s", subsystem, iface)}
}
