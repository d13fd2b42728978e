// Package metrics provides Prometheus metrics for device node creation,
// module autoloading, and firmware transfers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DevicesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ueventd",
		Subsystem: "device",
		Name:      "nodes_created_total",
		Help:      "Device nodes created, by subsystem",
	}, []string{"subsystem"})

	DevicesRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ueventd",
		Subsystem: "device",
		Name:      "nodes_removed_total",
		Help:      "Device nodes removed, by subsystem",
	}, []string{"subsystem"})

	DeviceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ueventd",
		Subsystem: "device",
		Name:      "node_errors_total",
		Help:      "Device node create/remove failures, by subsystem",
	}, []string{"subsystem"})

	ModulesLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ueventd",
		Subsystem: "module",
		Name:      "loads_total",
		Help:      "Module load attempts, by module and outcome",
	}, []string{"module", "outcome"})

	FirmwareLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ueventd",
		Subsystem: "firmware",
		Name:      "loads_total",
		Help:      "Firmware load attempts, by outcome",
	}, []string{"outcome"})

	FirmwareBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ueventd",
		Subsystem: "firmware",
		Name:      "bytes_total",
		Help:      "Firmware bytes transferred",
	}, []string{"name"})

	SocketOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ueventd",
		Subsystem: "socket",
		Name:      "overflow_total",
		Help:      "Netlink datagrams discarded for exceeding the receive buffer",
	})

	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ueventd",
		Subsystem: "event",
		Name:      "dispatched_total",
		Help:      "Parsed uevents dispatched, by action",
	}, []string{"action"})
)
