package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"sigs.k8s.io/yaml"

	"speechway.dev/config"
	"speechway.dev/pkg/bootkit"
	"speechway.dev/pkg/listener"
	"speechway.dev/pkg/metrics"
	"speechway.dev/pkg/speech"
	"speechway.dev/pkg/utils"
)

var _ listener.Listener = (*debugListener)(nil)
var _ listener.Drainable = (*debugListener)(nil)

type debugListener struct {
	cfg     *config.Config
	client  *speech.Client
	metrics *metrics.Metrics
	drained atomic.Bool
}

func NewAdminListener(cfg *config.Config, client *speech.Client, m *metrics.Metrics) (*debugListener, error) {
	if cfg == nil {
		return nil, errors.New("admin listener requires a configuration")
	}

	return &debugListener{cfg: cfg, client: client, metrics: m}, nil
}

func (d *debugListener) Drain(ctx context.Context) error {
	d.drained.Store(true)
	return nil
}

func (d *debugListener) HasDrained() bool {
	return d.drained.Load()
}

// configDump serves the effective configuration with secrets masked. JSON is
// the default; ?format=yaml switches to YAML.
func (d *debugListener) configDump(writer http.ResponseWriter, request *http.Request) {
	dump := map[string]any{
		"config":    d.cfg.Redacted(),
		"providers": d.client.Providers(),
	}

	if request.URL.Query().Get("format") != "yaml" {
		utils.WriteJSONForHTTP(http.StatusOK, dump, writer)
		return
	}

	bs, err := yaml.Marshal(dump)
	if err != nil {
		slog.Error("failed to marshal config dump", "error", err)
		http.Error(writer, err.Error(), http.StatusInternalServerError)

		return
	}

	writer.Header().Set("Content-Type", "application/yaml")
	_, _ = writer.Write(bs)
}

func (d *debugListener) healthz(writer http.ResponseWriter, request *http.Request) {
	_, _ = writer.Write([]byte("ok"))
}

func (d *debugListener) readyz(writer http.ResponseWriter, request *http.Request) {
	if d.HasDrained() {
		http.Error(writer, "draining", http.StatusServiceUnavailable)
		return
	}

	_, _ = writer.Write([]byte("ok"))
}

func (d *debugListener) RegisterRoutes(mux *mux.Router) error {
	mux.HandleFunc("/config_dump", d.configDump).Methods(http.MethodGet)
	mux.HandleFunc("/healthz", d.healthz).Methods(http.MethodGet)
	mux.HandleFunc("/readyz", d.readyz).Methods(http.MethodGet)
	mux.Handle("/metrics", d.metrics.Handler()).Methods(http.MethodGet)

	return nil
}

func NewAdminServer(_ context.Context, cfg *config.Config, client *speech.Client, m *metrics.Metrics, lifecycle bootkit.LifeCycle) error {
	addr := cfg.Gateway.AdminListen
	if addr == "" {
		return nil
	}

	adminListener, err := NewAdminListener(cfg, client, m)
	if err != nil {
		return err
	}

	server, err := listener.NewMux().Register(adminListener, nil).BuildServer(&http.Server{Addr: addr, ReadHeaderTimeout: 10 * time.Second, ReadTimeout: time.Minute}) //nolint:mnd
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	lifecycle.Append(bootkit.LifeCycleHook{
		HookName: "admin",
		OnStart: func(ctx context.Context) error {
			slog.Info("Starting admin server ...", "addr", ln.Addr().String())

			err := server.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			slog.Info("Stopping admin server ...")

			_ = adminListener.Drain(ctx)

			err := server.Shutdown(ctx)
			if err != nil {
				return err
			}

			slog.Info("Admin server stopped gracefully.")

			return nil
		},
	})

	return nil
}
