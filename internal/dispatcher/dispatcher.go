// Package dispatcher implements EventDispatcher: it routes one parsed
// uevent through the fixed sequence of checks -- modalias autoload,
// sysfs permission fixup, subsystem routing, product-perm fixup, and an
// independent firmware check -- that the rest of the device manager
// hangs off of.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/smazurov/ueventd/internal/metrics"
	"github.com/smazurov/ueventd/internal/nodes"
	"github.com/smazurov/ueventd/internal/platform"
	"github.com/smazurov/ueventd/internal/uevent"
)

// maxBasename matches the original parser's fixed device-name buffer: a
// block device whose sysfs basename doesn't fit is dropped rather than
// truncated.
const maxBasename = 64

// PermFixer applies sysfs attribute permission fixups. *permrules.Rules
// satisfies this.
type PermFixer interface {
	FixupSys(sysUpath string)
}

// Topology tracks platform bus nodes for symlink synthesis.
// *platform.Topology satisfies this.
type Topology interface {
	Add(path string)
	Remove(path string)
	Find(path string) (platform.Node, bool)
}

// NodeFactory creates and removes device nodes and symlinks.
// *nodes.Factory satisfies this.
type NodeFactory interface {
	Add(devpath string, major, minor int, block bool, links []string) error
	Remove(devpath string, major, minor int, links []string)
}

// Autoloader reacts to a MODALIAS value observed on an add event.
// *moduleload.Autoloader satisfies this.
type Autoloader interface {
	OnModalias(ctx context.Context, id string)
}

// FirmwareTrigger starts an asynchronous firmware load.
// *firmware.Loader satisfies this.
type FirmwareTrigger interface {
	Trigger(ctx context.Context, devpath, name string)
}

// ProductRule is one ProductPermEntry: a prefix match against
// uevent.product that applies uid/gid/mode to /dev/<device_name>.
type ProductRule struct {
	Prefix string
	Mode   os.FileMode
	UID    int
	GID    int
}

// ProductRules is the ancillary product-keyed permission table. It is
// scanned oldest-first and every matching rule is applied, mirroring
// PermRules.FixupSys's "apply every match" behaviour rather than
// PermRules.LookupDev's first-match-wins override behaviour, since the
// original treats this as a supplementary ownership fixup rather than a
// single authoritative lookup.
type ProductRules struct {
	rules []ProductRule

	chown func(path string, uid, gid int) error
	chmod func(path string, mode os.FileMode) error
}

// NewProductRules creates an empty product rule table.
func NewProductRules() *ProductRules {
	return &ProductRules{chown: os.Chown, chmod: os.Chmod}
}

// Add appends a product rule; insertion order is match order.
func (p *ProductRules) Add(prefix string, mode os.FileMode, uid, gid int) {
	p.rules = append(p.rules, ProductRule{Prefix: prefix, Mode: mode, UID: uid, GID: gid})
}

// Fixup applies every rule whose Prefix is a prefix of product to
// devicePath.
func (p *ProductRules) Fixup(product, devicePath string) {
	if product == "" || devicePath == "" {
		return
	}
	for _, r := range p.rules {
		if !strings.HasPrefix(product, r.Prefix) {
			continue
		}
		if err := p.chown(devicePath, r.UID, r.GID); err != nil {
			continue
		}
		_ = p.chmod(devicePath, r.Mode)
	}
}

// Dispatcher wires the leaf components together.
type Dispatcher struct {
	Rules      PermFixer
	Topology   Topology
	Nodes      NodeFactory
	Autoloader Autoloader
	Firmware   FirmwareTrigger
	Products   *ProductRules

	// InstallIDPrefix is the boot property ro.boot.install_id value; a
	// non-empty prefix match against partition_name triggers the GPT
	// by-name link and suppresses platform-derived block links.
	InstallIDPrefix string

	Logger *slog.Logger
}

// New creates a Dispatcher. products may be nil, in which case an empty
// table is used.
func New(rules PermFixer, topo Topology, nf NodeFactory, auto Autoloader, fw FirmwareTrigger, products *ProductRules, installIDPrefix string, logger *slog.Logger) *Dispatcher {
	if products == nil {
		products = NewProductRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Rules:           rules,
		Topology:        topo,
		Nodes:           nf,
		Autoloader:      auto,
		Firmware:        fw,
		Products:        products,
		InstallIDPrefix: installIDPrefix,
		Logger:          logger,
	}
}

// Dispatch runs the fixed ordering the spec requires: modalias autoload,
// then sysfs perm fixup, then subsystem routing, then product-perm
// fixup, with firmware handled as an independent, final check.
func (d *Dispatcher) Dispatch(ctx context.Context, ev uevent.Event) {
	metrics.EventsDispatched.WithLabelValues(ev.Action).Inc()

	if ev.Action == uevent.ActionAdd && ev.Modalias != "" {
		d.Autoloader.OnModalias(ctx, ev.Modalias)
	}

	if ev.Action == uevent.ActionAdd || ev.Action == uevent.ActionChange {
		d.Rules.FixupSys(ev.DevPath)
	}

	switch {
	case strings.HasPrefix(ev.Subsystem, "block"):
		d.handleBlock(ev)
	case strings.HasPrefix(ev.Subsystem, "platform"):
		d.handlePlatform(ev)
	default:
		d.handleGeneric(ev)
	}

	if ev.Action == uevent.ActionAdd && ev.DevName != "" {
		d.Products.Fixup(ev.Product, "/dev/"+ev.DevName)
	}

	if ev.Subsystem == "firmware" && ev.Action == uevent.ActionAdd {
		d.Firmware.Trigger(ctx, ev.DevPath, ev.Firmware)
	}
}

func (d *Dispatcher) handleBlock(ev uevent.Event) {
	basename := path.Base(ev.DevPath)
	if len(basename) > maxBasename {
		d.Logger.Warn("block device basename exceeds limit, dropping event", "devpath", ev.DevPath, "basename", basename)
		return
	}

	devpath := "/dev/block/" + basename
	links := d.blockLinks(ev, basename)

	switch ev.Action {
	case uevent.ActionAdd:
		if err := d.Nodes.Add(devpath, ev.Major, ev.Minor, true, links); err != nil {
			metrics.DeviceErrors.WithLabelValues(ev.Subsystem).Inc()
			d.Logger.Warn("failed to add block device node", "path", devpath, "error", err)
			return
		}
		metrics.DevicesCreated.WithLabelValues(ev.Subsystem).Inc()
	case uevent.ActionRemove:
		d.Nodes.Remove(devpath, ev.Major, ev.Minor, links)
		metrics.DevicesRemoved.WithLabelValues(ev.Subsystem).Inc()
	}
}

func (d *Dispatcher) blockLinks(ev uevent.Event, basename string) []string {
	var bus platform.Node
	hasBus := false
	if strings.HasPrefix(ev.DevPath, "/devices/") {
		if found, ok := d.Topology.Find(ev.DevPath); ok {
			bus, hasBus = found, true
		}
	}
	return nodes.BlockLinks(ev.DevPath, basename, ev.PartName, ev.PartN, bus, hasBus, d.InstallIDPrefix)
}

func (d *Dispatcher) handlePlatform(ev uevent.Event) {
	switch ev.Action {
	case uevent.ActionAdd:
		d.Topology.Add(ev.DevPath)
	case uevent.ActionRemove:
		d.Topology.Remove(ev.DevPath)
	}
}

// genericRoute maps an exact subsystem name to the directory its device
// nodes live under.
var genericRoute = map[string]string{
	"graphics":   "/dev/graphics/",
	"drm":        "/dev/dri/",
	"oncrpc":     "/dev/oncrpc/",
	"adsp":       "/dev/adsp/",
	"msm_camera": "/dev/msm_camera/",
	"input":      "/dev/input/",
	"mtd":        "/dev/mtd/",
	"sound":      "/dev/snd/",
}

func (d *Dispatcher) handleGeneric(ev uevent.Event) {
	if ev.Subsystem != "usb" && strings.HasPrefix(ev.Subsystem, "usb") {
		return
	}

	name := path.Base(ev.DevPath)
	if name == "" || name == "/" {
		return
	}

	var devpath string
	switch {
	case ev.Subsystem == "usb":
		devpath = usbNodePath(ev)
	case ev.Subsystem == "misc" && strings.HasPrefix(name, "log_"):
		devpath = "/dev/log/" + strings.TrimPrefix(name, "log_")
	default:
		if dir, ok := genericRoute[ev.Subsystem]; ok {
			devpath = dir + name
		} else {
			devpath = "/dev/" + name
		}
	}

	hasBus := false
	if strings.HasPrefix(ev.DevPath, "/devices/") {
		if _, ok := d.Topology.Find(ev.DevPath); ok {
			hasBus = true
		}
	}
	links := nodes.CharLinks(ev.Subsystem, ev.DevPath, hasBus)

	switch ev.Action {
	case uevent.ActionAdd:
		if err := d.Nodes.Add(devpath, ev.Major, ev.Minor, false, links); err != nil {
			metrics.DeviceErrors.WithLabelValues(ev.Subsystem).Inc()
			d.Logger.Warn("failed to add device node", "path", devpath, "error", err)
			return
		}
		metrics.DevicesCreated.WithLabelValues(ev.Subsystem).Inc()
	case uevent.ActionRemove:
		d.Nodes.Remove(devpath, ev.Major, ev.Minor, links)
		metrics.DevicesRemoved.WithLabelValues(ev.Subsystem).Inc()
	}
}

// usbNodePath resolves a usb-subsystem device's node path: the kernel's
// suggested device_name if present, else the conventional
// /dev/bus/usb/<bus>/<dev> layout derived from the minor number.
func usbNodePath(ev uevent.Event) string {
	if ev.DevName != "" {
		return "/dev/" + ev.DevName
	}
	bus := ev.Minor/128 + 1
	dev := ev.Minor%128 + 1
	return fmt.Sprintf("/dev/bus/usb/%03d/%03d", bus, dev)
}
