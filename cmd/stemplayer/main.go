package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/satindergrewal/stemplayer/internal/api"
	"github.com/satindergrewal/stemplayer/internal/config"
	"github.com/satindergrewal/stemplayer/internal/output"
	"github.com/satindergrewal/stemplayer/internal/stream"
	"github.com/satindergrewal/stemplayer/internal/transport"
)

func main() {
	cfg := config.Load()

	var (
		folder string
		server bool
		port   int
	)
	flag.StringVar(&folder, "folder", "", "Folder of stems to load (defaults to the last one used)")
	flag.BoolVar(&server, "server", false, "Start in web server mode")
	flag.IntVar(&port, "port", cfg.Port, "Port for web server mode")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	settings := config.NewSettingsStore(cfg.SettingsFile)
	if folder == "" {
		if last, ok := settings.LastFolder(); ok {
			folder = last
			log.Printf("Using last folder %s", folder)
		}
	}

	// Output sinks: local device and/or network listeners
	var sinks output.Tee
	var broadcaster *stream.Broadcaster
	if cfg.HasOutput("device") {
		sinks = append(sinks, output.NewDevice())
	}
	if cfg.HasOutput("stream") {
		broadcaster = stream.NewBroadcaster()
		go broadcaster.Run(ctx)
		sinks = append(sinks, broadcaster)
	}
	if len(sinks) == 0 {
		log.Fatalf("STEMS_OUTPUTS must name at least one of: device, stream (got %v)", cfg.Outputs)
	}

	ctrl := transport.NewController(sinks, transport.Options{
		Extensions:      cfg.Extensions,
		SoftLimit:       cfg.SoftLimit,
		ResampleQuality: cfg.ResampleQuality,
	})

	var err error
	if server {
		err = runServer(ctx, cfg, port, ctrl, settings, broadcaster, folder)
	} else if folder == "" {
		flag.Usage()
	} else {
		err = runCLI(ctx, ctrl, settings, folder, os.Stdin, os.Stdout)
	}

	if cerr := ctrl.Close(); cerr != nil {
		log.Printf("Closing session: %v", cerr)
	}
	if cerr := sinks.Close(); cerr != nil {
		log.Printf("Closing outputs: %v", cerr)
	}
	if err != nil {
		log.Fatalf("stemplayer: %v", err)
	}
}

func runServer(ctx context.Context, cfg config.Config, port int, ctrl *transport.Controller,
	settings *config.SettingsStore, broadcaster *stream.Broadcaster, folder string) error {
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if folder != "" {
		if res, err := ctrl.Load(folder); err != nil {
			log.Printf("Preload of %s failed: %v", folder, err)
		} else {
			log.Printf("Preloaded %d stems from %s", res.StemCount, folder)
		}
	}

	hub := api.NewStatusHub(ctrl, cfg.StatusInterval)
	go hub.Run(ctx)

	routes := api.RouterConfig{
		Transport:   ctrl,
		Settings:    settings,
		Hub:         hub,
		CORSOrigins: cfg.CORSOrigins,
	}
	if broadcaster != nil {
		routes.Stream = stream.NewHTTPHandler(broadcaster, cfg.StreamBitrate)
		routes.Offer = stream.NewWebRTCHandler(broadcaster, cfg.StreamBitrate, cfg.ResampleQuality)
	}

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: api.NewRouter(routes)}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		srv.Close()
	}()

	log.Printf("stemplayer listening on %s", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}
