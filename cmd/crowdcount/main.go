package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"crowdcount/internal/api"
	"crowdcount/internal/auth"
	"crowdcount/internal/camera"
	"crowdcount/internal/config"
	"crowdcount/internal/database"
	"crowdcount/internal/heatmap"
	"crowdcount/internal/logging"
	"crowdcount/internal/metrics"
	"crowdcount/internal/occupancy"
	"crowdcount/internal/pipeline"
	"crowdcount/internal/pipeline/strategies"
	"crowdcount/internal/recorder"
	"crowdcount/internal/services"
	"crowdcount/internal/stream"
	"crowdcount/internal/telegram"
	"crowdcount/internal/uplink"
	"crowdcount/internal/ws"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "crowdcount: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if cfg.Server.Debug {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	// Storage
	db, err := database.New(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	m := metrics.New()

	// Counting pipelines
	eventBus := pipeline.NewEventBus()
	frameProvider := pipeline.NewFFmpegFrameProvider(logger)
	decoder := pipeline.NewJPEGDecoder(pipeline.DecoderOptions{
		Width:     cfg.Capture.Width,
		Height:    cfg.Capture.Height,
		Grayscale: cfg.Capture.Grayscale,
		BlurSigma: cfg.Capture.BlurSigma,
	})
	pipelineManager := pipeline.NewManager(frameProvider, decoder, eventBus, strategies.Create,
		pipeline.WithManagerLogger(logger),
		pipeline.WithObserver(m),
		pipeline.WithCaptureSettings(pipeline.CaptureSettings{
			FPS:    cfg.Capture.FPS,
			Width:  cfg.Capture.Width,
			Height: cfg.Capture.Height,
		}),
		pipeline.WithGlobalConfig(&pipeline.GlobalSamplingConfig{
			Mode:      pipeline.SamplingMode(cfg.Capture.Mode),
			EveryN:    cfg.Capture.EveryN,
			Interval:  cfg.Capture.Interval,
			Detection: cfg.Detection,
		}),
	)

	cameraManager := camera.NewCameraManager(db, pipelineManager, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	goRun := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	// Result subscribers
	hub := ws.NewOccupancyHub(logger)
	streams := stream.NewAnonymousStreamManager(logger)
	eventBus.Subscribe(hub)
	eventBus.Subscribe(pipeline.NewStreamingBridge(streams))

	grid := heatmap.Grid{Cols: cfg.Heatmap.Cols, Rows: cfg.Heatmap.Rows}
	rec := recorder.New(db, recorder.Options{
		Grid:           grid,
		Retention:      cfg.Retention.Samples,
		PruneInterval:  cfg.Retention.PruneInterval,
		SampleInterval: cfg.Retention.SampleInterval,
	}, logger)
	eventBus.Subscribe(rec)
	goRun(rec.Run)

	if cfg.Uplink.Listen != "" {
		lis, err := net.Listen("tcp", cfg.Uplink.Listen)
		if err != nil {
			return fmt.Errorf("failed to listen for collector: %w", err)
		}
		collector := uplink.NewCollector(func(r *occupancy.Result) {
			log.Debugw("Collected result", "camera_id", r.CameraID, "people_count", r.PeopleCount)
		}, logger)
		goRun(func(ctx context.Context) {
			if err := collector.Serve(ctx, lis); err != nil {
				log.Errorw("Collector stopped", "error", err)
			}
		})
	}

	if cfg.Uplink.Address != "" {
		publisher, err := uplink.NewPublisher(cfg.Uplink.Address, cfg.Uplink.Timeout, []uplink.PublisherOption{
			uplink.WithFailureRecorder(m),
			uplink.WithLogger(logger),
		})
		if err != nil {
			return err
		}
		defer publisher.Close()
		eventBus.Subscribe(publisher)
		goRun(publisher.Run)
		log.Infow("Publishing results", "collector", cfg.Uplink.Address)
	}

	var bot *telegram.TelegramBot
	var alerter *telegram.CapacityAlerter
	if cfg.Alerts.TelegramBotToken != "" && cfg.Alerts.TelegramChatID != "" {
		bot = telegram.NewTelegramBot(telegram.Config{
			BotToken:        cfg.Alerts.TelegramBotToken,
			ChatID:          cfg.Alerts.TelegramChatID,
			Enabled:         cfg.Alerts.TelegramEnabled,
			CooldownSeconds: cfg.Alerts.CooldownSeconds,
		}, logger)

		lookup := func(id string) (string, int, bool) {
			cam, err := cameraManager.GetCamera(id)
			if err != nil {
				return "", 0, false
			}
			return cam.Name, cam.Capacity, true
		}
		alerter = telegram.NewCapacityAlerter(bot, lookup, cfg.Alerts.WarnRatio, m, logger)
		eventBus.Subscribe(alerter)
		goRun(alerter.Run)

		commands := telegram.NewCommandHandler(bot, cameraManager, pipelineManager)
		goRun(func(ctx context.Context) {
			if err := commands.StartPolling(ctx, 2*time.Second); err != nil {
				log.Infow("Telegram commands not started", "reason", err)
			}
		})
	}

	// Cameras declared in the configuration
	for _, c := range cfg.Cameras {
		registerCamera(cameraManager, c, log)
	}

	// Services
	authenticator, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}

	var notifier services.Notifier
	if bot != nil {
		notifier = bot
	}

	cameraSvc := services.NewCameraService(cameraManager, pipelineManager)
	cameraSvc.OnRemove(func(id string) {
		rec.Forget(id)
		streams.DeleteStream(id)
		m.ForgetCamera(id)
		if alerter != nil {
			alerter.Forget(id)
		}
	})

	server := api.New(api.Services{
		Health:    services.NewHealthService(db),
		Auth:      services.NewAuthService(authenticator),
		Cameras:   cameraSvc,
		Occupancy: services.NewOccupancyService(cameraManager, pipelineManager, db, grid, 0),
		Config:    services.NewConfigService(pipelineManager, db, notifier, logger),
		System:    services.NewSystemService(cameraManager, pipelineManager, hub),
	}, api.Streams{
		Occupancy: ws.NewHandler(hub, pipelineManager),
		Anonymous: streams,
		Snapshot:  stream.NewSnapshotHandler(streams),
		Metrics:   m.Handler(),
	}, logger)

	if authenticator.IsEnabled() {
		log.Infow("API authentication enabled", "username", cfg.Auth.Username)
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	handleHTTPServer(ctx, cfg.Server.Addr(), server, authenticator, &wg, errc, logger)

	log.Infow("exiting", "reason", <-errc)

	// Stop producing results before the subscribers drain.
	cameraManager.StopAll()
	pipelineManager.Close()
	cancel()
	hub.Close()
	streams.Close()
	eventBus.Close()

	wg.Wait()
	log.Info("exited")
	return nil
}

// loadConfig reads the file named by --config, then applies the remaining
// flags on top of it
func loadConfig(args []string) (*config.Config, error) {
	pre := pflag.NewFlagSet("crowdcount", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	path := pre.StringP("config", "c", os.Getenv("CROWDCOUNT_CONFIG"), "Path to the YAML configuration file")
	if err := pre.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return nil, err
	}

	cfg, err := config.Read(*path)
	if err != nil {
		return nil, err
	}

	fs := pflag.NewFlagSet("crowdcount", pflag.ContinueOnError)
	fs.StringP("config", "c", *path, "Path to the YAML configuration file")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// registerCamera adds a configured camera unless the database already knows
// it, and starts it when enabled
func registerCamera(cm *camera.CameraManager, c config.CameraConfig, log *zap.SugaredLogger) {
	name := c.Name
	if name == "" {
		name = c.ID
	}

	if _, err := cm.GetCamera(c.ID); err != nil {
		if err := cm.AddCamera(camera.NewCamera(c.ID, name, c.Source, c.Capacity)); err != nil {
			log.Warnw("Failed to register camera", "camera_id", c.ID, "error", err)
			return
		}
	}

	if !c.Enabled {
		return
	}
	if err := cm.ActivateCamera(c.ID); err != nil {
		log.Warnw("Failed to start camera", "camera_id", c.ID, "error", err)
	}
}
