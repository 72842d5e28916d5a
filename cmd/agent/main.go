package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"

	"skysurvey-agent/internal/apiclient"
	"skysurvey-agent/internal/config"
	"skysurvey-agent/internal/device"
	"skysurvey-agent/internal/gateway"
	"skysurvey-agent/internal/hub"
	"skysurvey-agent/internal/logger"
	"skysurvey-agent/internal/netwatch"
	"skysurvey-agent/internal/server"
	"skysurvey-agent/internal/store"
	"skysurvey-agent/internal/syncer"
	"skysurvey-agent/internal/watchdog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync()
	log := logger.For("agent")

	gin.SetMode(cfg.GinMode)

	badgerCfg := store.DefaultBadgerConfig(filepath.Join(cfg.DataDir, "queue"))
	badgerCfg.Logger = logger.For("badger")
	kv, err := store.OpenBadger(badgerCfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	st := store.New(kv)
	defer func() {
		if err := st.Close(); err != nil {
			log.Errorw("close store", "error", err)
		}
	}()

	devices := device.NewProvider(st)
	deviceID, err := devices.GetOrCreate()
	if err != nil {
		return fmt.Errorf("device identity: %w", err)
	}
	log.Infow("starting", "device", deviceID, "api", cfg.APIBaseURL, "port", cfg.Port)

	api := apiclient.New(cfg.APIBaseURL, cfg.RequestTimeout)
	tracker := netwatch.New(netwatch.ProbeFunc(api.Health), st, netwatch.Options{
		ProbeInterval: cfg.ProbeInterval,
	})
	events := hub.New()
	tracker.OnTransition(func(online bool) {
		events.Emit("connectivity", map[string]bool{"online": online})
	})

	gw := gateway.New(api, st, tracker, devices, gateway.Options{})
	sync := syncer.New(api, st, tracker, syncer.Options{
		Interval: cfg.SyncInterval,
		Notifier: hubSyncNotifier{events},
	})
	wd := watchdog.New(tracker, st, gw, watchdog.Options{
		WarnThreshold: cfg.WarnThreshold,
		GraceWindow:   cfg.GraceWindow,
		Notifier:      hubWatchdogNotifier{events},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go tracker.Start(ctx)
	go sync.Start(ctx)
	go wd.Start(ctx)

	router := server.NewRouter(server.Deps{
		Store:    st,
		Gateway:  gw,
		API:      api,
		Net:      tracker,
		Syncer:   sync,
		Watchdog: wd,
		Devices:  devices,
		Hub:      events,
	})
	return server.Run(ctx, cfg, router)
}

type hubSyncNotifier struct{ hub *hub.Hub }

func (n hubSyncNotifier) Publish(e syncer.Event) { n.hub.Emit(e.Type, e) }

type hubWatchdogNotifier struct{ hub *hub.Hub }

func (n hubWatchdogNotifier) PublishWatchdog(e watchdog.Event) { n.hub.Emit(e.Type, e) }
