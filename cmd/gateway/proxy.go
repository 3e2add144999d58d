package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"speechway.dev/config"
	"speechway.dev/pkg/bootkit"
	"speechway.dev/pkg/listener"
	"speechway.dev/pkg/listener/manager/tts"
	"speechway.dev/pkg/metrics"
	"speechway.dev/pkg/speech"
)

func StartGateway(_ context.Context, lifecycle bootkit.LifeCycle, cfg *config.Config, client *speech.Client, m *metrics.Metrics) error {
	listenerAddr := cfg.Gateway.Listen
	if listenerAddr == "" {
		listenerAddr = ":8080"
	}

	requestFilters, err := tts.NewRequestFilters(cfg, m, lifecycle)
	if err != nil {
		return err
	}

	mux := listener.NewMux()
	mux.Register(tts.NewOpenAITextToSpeechListener(cfg, client, requestFilters, lifecycle))

	// No write timeout: synthesis of long inputs can take minutes.
	server, err := mux.BuildServer(&http.Server{Addr: listenerAddr, ReadHeaderTimeout: 10 * time.Second, ReadTimeout: time.Minute}) //nolint:mnd
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", listenerAddr)
	if err != nil {
		return err
	}

	lifecycle.Append(bootkit.LifeCycleHook{
		HookName: "gateway",
		OnStart: func(ctx context.Context) error {
			slog.Info("Starting gateway ...", "addr", ln.Addr().String())

			err := server.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			slog.Info("Stopping gateway ...")

			err := server.Shutdown(ctx)
			if err != nil {
				return err
			}

			slog.Info("Gateway stopped gracefully.")

			return nil
		},
	})

	return nil
}
