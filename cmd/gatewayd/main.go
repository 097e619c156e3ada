// Command gatewayd runs the chat-completion dispatch engine as an HTTP
// server: it loads a YAML configuration, builds a registry of models and
// provider instances, and serves the client-facing HTTP surface.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/redisnotbluedev/llm-gateway/pkg/config"
	"github.com/redisnotbluedev/llm-gateway/pkg/dispatch"
	"github.com/redisnotbluedev/llm-gateway/pkg/httpapi"
	"github.com/redisnotbluedev/llm-gateway/pkg/metrics"
	"github.com/redisnotbluedev/llm-gateway/pkg/persistence"
	"github.com/redisnotbluedev/llm-gateway/pkg/provider"
	"github.com/redisnotbluedev/llm-gateway/pkg/provider/adapters"
	"github.com/redisnotbluedev/llm-gateway/pkg/registry"
)

func main() {
	configPath := flag.String("config", "gateway.yaml", "path to the YAML configuration file")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	metricsDir := flag.String("metrics-dir", "metrics", "directory for persisted aggregate state")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())
	logrus.SetFormatter(&logrus.JSONFormatter{})

	if err := run(*configPath, *addr, *metricsDir, log); err != nil {
		log.WithError(err).Fatal("gatewayd exited with error")
	}
}

func run(configPath, addr, metricsDir string, log *logrus.Entry) error {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	doc, err := config.Parse(raw)
	if err != nil {
		return err
	}

	factories := provider.NewFactoryRegistry()
	factories.Register("openai", adapters.NewOpenAIFactory())
	factories.Register("anthropic", adapters.NewAnthropicFactory())
	factories.Register("mock", adapters.NewMockFactory())

	reg, err := config.Build(doc, factories, log)
	if err != nil {
		return err
	}

	store, err := persistence.NewStore(metricsDir)
	if err != nil {
		return err
	}

	globalMetrics := metrics.New(prometheus.DefaultRegisterer)
	restoreState(store, reg, globalMetrics, log)

	actor := persistence.NewActor(store, reg, globalMetrics, persistence.DefaultDebounce, log)
	actorCtx, cancelActor := context.WithCancel(context.Background())
	actorDone := make(chan struct{})
	go actor.Run(actorCtx, actorDone)

	d := dispatch.New(reg, globalMetrics, log)
	d.OnStateChange = actor.Trigger
	server := httpapi.New(d, reg, globalMetrics, log)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("gatewayd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		cancelActor()
		<-actorDone
		return err
	case <-sig:
		log.Info("shutting down")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown did not complete cleanly")
	}

	cancelActor()
	<-actorDone
	return nil
}

// restoreState is a best-effort load of persisted aggregates; a missing or
// unreadable file just starts from zero.
func restoreState(store *persistence.Store, reg *registry.Registry, globalMetrics *metrics.Global, log *logrus.Entry) {
	if snap, err := store.LoadGlobalMetrics(); err != nil {
		log.WithError(err).Warn("failed to restore global metrics, starting from zero")
	} else {
		globalMetrics.Restore(snap)
	}

	n, err := store.RestoreProviderMetrics(reg.ListModels())
	if err != nil {
		log.WithError(err).Warn("failed to restore provider metrics, starting from zero")
		return
	}
	log.WithField("restored", n).Info("restored provider metrics")
}
