// Command labwired runs the lab integration daemon: it loads the device
// configuration, starts one transport listener per enabled analyzer and
// serves the LIS-facing HTTP API until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openlis/labwire/api"
	"github.com/openlis/labwire/audit"
	"github.com/openlis/labwire/device"
	"github.com/openlis/labwire/dispatch"
	"github.com/openlis/labwire/logger"
	"github.com/openlis/labwire/manager"
	"github.com/openlis/labwire/order"
)

func main() {
	var (
		configPath = flag.String("config", "devices.toml", "device configuration file")
		dbPath     = flag.String("db", "labwire.db", "sqlite order database")
		listenAddr = flag.String("listen", ":8080", "HTTP listen address")
		auditDir   = flag.String("audit-dir", "", "audit file directory (default message_logs)")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *debug {
		logger.SetLevel(logger.DebugLevel)
	}
	log := logger.GetLogger()

	devices, err := device.Load(*configPath)
	if err != nil {
		log.Fatal("loading device configuration failed", "error", err)
	}
	if len(devices) == 0 {
		log.Warn("no devices configured, only the HTTP API will be served")
	}

	store, err := order.OpenStore(*dbPath)
	if err != nil {
		log.Fatal("opening order database failed", "error", err)
	}
	defer store.Close()

	orders := order.NewService(store, log)
	auditSvc := audit.NewService(*auditDir, log)
	dispatcher := dispatch.New(orders, log)

	mgr := manager.New(devices, dispatcher, auditSvc, log)
	mgr.Start()

	server := api.NewServer(orders, mgr, dispatcher, auditSvc, log)
	httpServer := &http.Server{
		Addr:              *listenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http api listening", "addr", *listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", "error", err)
		}
	}()

	log.Info("labwired started",
		"devices", len(devices), "listeners", mgr.ListenerCount())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	log.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}

	mgr.Stop()
	log.Info("labwired stopped")
}
