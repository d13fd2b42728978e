// Package statusd exposes the device manager's ambient HTTP status
// surface: a liveness probe, Prometheus metrics, and a debug
// Server-Sent Events stream of the device/module/firmware/log events
// flowing through the rest of the daemon.
package statusd

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/ueventd/internal/events"
	"github.com/smazurov/ueventd/internal/version"
)

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Body struct {
		Status  string `json:"status" example:"ok"`
		Version string `json:"version" example:"1.0.0"`
	}
}

// Server serves /healthz, /metrics, and /events.
type Server struct {
	api      huma.API
	mux      *http.ServeMux
	eventBus *events.Bus
}

// New builds a Server wired to bus. Routes are registered immediately;
// nothing is listening until Start is called.
func New(bus *events.Bus) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("ueventd status", version.Get().Version)
	config.Info.Description = "Liveness, metrics, and debug event stream for the device manager"
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}

	api := humago.New(mux, config)

	s := &Server{api: api, mux: mux, eventBus: bus}
	s.registerHealth()
	s.registerMetrics()
	s.registerEvents()

	return s
}

// Mux returns the underlying mux, for tests that want to drive routes
// directly with httptest.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Start blocks serving addr until the listener fails or is closed.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) registerHealth() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthz",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Liveness probe",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*HealthResponse, error) {
		resp := &HealthResponse{}
		resp.Body.Status = "ok"
		resp.Body.Version = version.Get().Version
		return resp, nil
	})
}

// registerMetrics mounts the Prometheus exposition handler directly on
// the mux rather than through huma: the exposition format isn't JSON,
// so there's no typed operation to register.
func (s *Server) registerMetrics() {
	s.mux.Handle("/metrics", promhttp.Handler())
}

// registerEvents streams every device-manager event type over SSE for
// debugging and local inspection; it carries no auth since it's meant
// to run on a loopback-only listener alongside the rest of the daemon.
func (s *Server) registerEvents() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Device manager event stream",
		Description: "Real-time stream of device, module, firmware, and log events",
		Tags:        []string{"events"},
	}, map[string]any{
		"device":   events.DeviceEvent{},
		"module":   events.ModuleEvent{},
		"firmware": events.FirmwareEvent{},
		"log":      events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.DeviceEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ModuleEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FirmwareEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		if err := send.Data(events.LogEntryEvent{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     "info",
			Module:    "statusd",
			Message:   "event stream connected",
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
