// Package platform caches platform-bus sysfs paths so block-device event
// handling can compose human-meaningful "by-name"/"by-num" symlinks and
// so character-device handling can recognise devices that live under a
// known platform bus.
package platform

import "strings"

// Node is one cached platform device.
type Node struct {
	Path string // absolute sysfs path, e.g. /devices/platform/sdhci.1
	Name string // Path with the leading /devices/ and optional platform/ stripped
}

// Topology holds the platform node cache. It is owned by the single
// dispatch goroutine; no synchronization is required.
type Topology struct {
	nodes []Node
}

// New creates an empty platform topology cache.
func New() *Topology {
	return &Topology{}
}

// Add records path as a platform device, unless it is a subdevice of an
// already-known node (a strict, "/"-terminated prefix match), in which
// case it is skipped -- only the top-level bus node is tracked.
func (t *Topology) Add(path string) {
	for _, n := range t.nodes {
		if isStrictPrefix(n.Path, path) {
			return
		}
	}
	t.nodes = append(t.nodes, Node{Path: path, Name: deriveName(path)})
}

// Remove drops the node whose Path byte-exactly matches path, if any.
func (t *Topology) Remove(path string) {
	for i, n := range t.nodes {
		if n.Path == path {
			t.nodes = append(t.nodes[:i], t.nodes[i+1:]...)
			return
		}
	}
}

// Find returns the newest-inserted node whose Path is a strict,
// "/"-terminated prefix of path, or false if none matches. Add only skips
// paths below an already-stored node, so a parent added after one of its
// descendants is stored too and both can match; the newer one wins.
func (t *Topology) Find(path string) (Node, bool) {
	for i := len(t.nodes) - 1; i >= 0; i-- {
		if isStrictPrefix(t.nodes[i].Path, path) {
			return t.nodes[i], true
		}
	}
	return Node{}, false
}

// isStrictPrefix reports whether prefix+"/" is a prefix of s -- i.e.
// prefix is a proper ancestor path component of s, not merely a string
// prefix (so "/devices/platform/leds1" is not considered a prefix of
// "/devices/platform/leds10").
func isStrictPrefix(prefix, s string) bool {
	return strings.HasPrefix(s, prefix+"/")
}

// deriveName strips a leading "/devices/" and an optional following
// "platform/" segment to produce the bus name used to compose
// /dev/block/platform/<name>/... symlink paths.
func deriveName(path string) string {
	const devicesPrefix = "/devices/"
	name := path
	if strings.HasPrefix(name, devicesPrefix) {
		name = name[len(devicesPrefix):]
	}
	const platformPrefix = "platform/"
	if strings.HasPrefix(name, platformPrefix) {
		name = name[len(platformPrefix):]
	}
	return name
}
