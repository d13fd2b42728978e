// Package uevent tokenises the kernel's null-delimited KEY=VALUE uevent
// records into a structured event, the same text format the kernel emits
// over both the netlink uevent socket and individual sysfs "uevent" files.
package uevent

import (
	"bytes"
	"strconv"
)

// Action values recognised by the rest of the device manager. Anything
// else observed on the wire is reported as ActionOther.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
	ActionOther  = "other"
)

// Event is one parsed uevent record. String fields default to empty and
// integer fields default to -1 when the corresponding key is absent; a
// key that is present with a malformed value parses as 0.
type Event struct {
	Action    string
	DevPath   string
	Subsystem string
	Firmware  string
	Major     int
	Minor     int
	PartN     int
	PartName  string
	DevName   string
	Product   string
	Modalias  string
}

// Parse tokenises buf, a kernel uevent datagram, into an Event. buf is
// expected to end with at least one null byte; Parse never panics on a
// buffer that doesn't, it simply treats the final token as short.
//
// The returned Event's string fields are independent copies rather than
// views into buf --
// byte slices handed in from a reused receive buffer would otherwise be
// silently corrupted on the next read.
func Parse(buf []byte) Event {
	ev := Event{
		Action: ActionOther,
		Major:  -1,
		Minor:  -1,
		PartN:  -1,
	}

	records := bytes.Split(buf, []byte{0})
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		eq := bytes.IndexByte(rec, '=')
		if eq < 1 {
			continue
		}
		key := string(rec[:eq])
		value := string(rec[eq+1:])

		switch key {
		case "ACTION":
			switch value {
			case ActionAdd, ActionRemove, ActionChange:
				ev.Action = value
			default:
				ev.Action = ActionOther
			}
		case "DEVPATH":
			ev.DevPath = value
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "FIRMWARE":
			ev.Firmware = value
		case "MAJOR":
			ev.Major = parseIntDefault(value, 0)
		case "MINOR":
			ev.Minor = parseIntDefault(value, 0)
		case "PARTN":
			ev.PartN = parseIntDefault(value, 0)
		case "PARTNAME":
			ev.PartName = value
		case "DEVNAME":
			ev.DevName = value
		case "PRODUCT":
			ev.Product = value
		case "MODALIAS":
			ev.Modalias = value
		case "SEQNUM":
			// accepted and discarded
		}
	}

	return ev
}

// parseIntDefault parses s as a signed integer, returning def on any
// malformed input -- per spec, bad integer fields default rather than
// fail the whole parse.
func parseIntDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
