package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/config"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/paths"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/readiness"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/supervisor"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/worker"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/camera"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/redis"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/vision"
	websocketPkg "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/websocket"
	"github.com/sirupsen/logrus"
)

func main() {
	layout, err := paths.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve paths: %v\n", err)
		os.Exit(1)
	}

	env, err := config.LoadEnv(layout.AppRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load environment: %v\n", err)
		os.Exit(1)
	}
	// .env may move the roots.
	if layout, err = paths.Resolve(); err != nil {
		fmt.Fprintf(os.Stderr, "resolve paths: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "worker" {
		os.Exit(runWorker(layout, env, os.Args[2:]))
	}
	runServer(layout, env)
}

// runWorker is the child side: `worker <kind> [--supervised]`.
func runWorker(layout paths.Layout, env config.Env, args []string) int {
	flags := flag.NewFlagSet("worker", flag.ContinueOnError)
	supervised := flags.Bool("supervised", false, "stop when stdin closes")

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: worker measurement|calibration|registration [--supervised]")
		return entity.ExitGeneric
	}
	kind := entity.WorkerKind(args[0])
	if err := flags.Parse(args[1:]); err != nil {
		return entity.ExitGeneric
	}

	logger := log.NewLogger(layout.LogsDir(), string(kind))

	var analyzer vision.Analyzer
	if env.VisionEngine == vision.EngineRemote {
		client, err := websocketPkg.NewVisionClient(logger, env.VisionURL)
		if err != nil {
			logger.Errorf("Vision engine unavailable: %v", err)
			return entity.ExitConfigInvalid
		}
		defer client.Close()
		analyzer = client
	}

	estimator, err := vision.NewEstimator(env.VisionEngine, analyzer)
	if err != nil {
		logger.Errorf("Vision engine unavailable: %v", err)
		return entity.ExitConfigInvalid
	}
	calibrator, err := vision.NewCalibrator(env.VisionEngine, analyzer)
	if err != nil {
		logger.Errorf("Vision engine unavailable: %v", err)
		return entity.ExitConfigInvalid
	}

	w, err := worker.New(kind, worker.Options{
		Layout:         layout,
		Log:            logger,
		Camera:         camera.NewDirectorySource(env.CameraSourceDir),
		Estimator:      estimator,
		Calibrator:     calibrator,
		TickInterval:   env.TickInterval,
		AcquireTimeout: env.AcquireTimeout,
		Samples:        env.Samples,
	})
	if err != nil {
		logger.Error(err)
		return exitCode(err)
	}

	ctx, stop := worker.StopContext(context.Background(), *supervised, os.Stdin)
	defer stop()

	logger.WithFields(logrus.Fields{
		"kind":       kind,
		"pid":        os.Getpid(),
		"supervised": *supervised,
	}).Info("Worker starting")

	if err := w.Run(ctx); err != nil {
		logger.WithFields(logrus.Fields{
			"kind":  kind,
			"error": err.Error(),
		}).Error("Worker failed")
		return exitCode(err)
	}
	return entity.ExitOK
}

func exitCode(err error) int {
	var exitErr *worker.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return entity.ExitGeneric
}

var workerKinds = []entity.WorkerKind{
	entity.WorkerMeasurement,
	entity.WorkerCalibration,
	entity.WorkerRegistration,
}

func runServer(layout paths.Layout, env config.Env) {
	logger := log.NewLogger(layout.LogsDir(), "api_server")
	logger.WithFields(logrus.Fields{
		"app_env":   env.AppEnv,
		"log_level": env.LogLevel,
		"vision":    env.VisionEngine,
	}).Info("Starting measurement host")

	executable, err := os.Executable()
	if err != nil {
		logger.Fatalf("Cannot locate own executable: %v", err)
	}

	var observers []supervisor.Option
	statusMirror, err := redis.New()
	switch {
	case errors.Is(err, redis.ErrNotConfigured):
	case err != nil:
		logger.Warnf("Slot status mirror disabled: %v", err)
	default:
		mirror := supervisor.NewMirrorObserver(logger, statusMirror)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, orphan := range mirror.Orphans(ctx, workerKinds...) {
			logger.WithFields(logrus.Fields{
				"kind":       orphan.Kind,
				"pid":        orphan.PID,
				"session_id": orphan.SessionID,
			}).Warn("Previous host left a worker running")
		}
		cancel()
		observers = append(observers, supervisor.WithObserver(mirror))
	}

	sup := supervisor.New(logger, append(observers, supervisor.WithMonitorInterval(env.MonitorInterval))...)
	launcher := supervisor.NewExecLauncher(logger)
	workerEnv := []string{
		paths.EnvAppRoot + "=" + layout.AppRoot,
		paths.EnvStorageRoot + "=" + layout.StorageRoot,
		paths.EnvAnnotationsDir + "=" + layout.AnnotationsDir(),
	}

	for _, kind := range workerKinds {
		sup.Register(supervisor.SlotConfig{
			Kind:     kind,
			Launcher: launcher,
			Command: supervisor.LaunchSpec{
				Path: executable,
				Args: []string{"worker", string(kind), "--supervised"},
				Dir:  layout.AppRoot,
				Env:  workerEnv,
			},
			Probe:            readiness.FileProbe{Path: layout.ReadyFile(kind)},
			ReadyRetries:     env.ReadyRetries,
			ReadyDelay:       env.ReadyDelay,
			StopGrace:        env.StopGrace,
			ExitIsCompletion: kind != entity.WorkerMeasurement,
		})
	}
	sup.Run()

	server, err := config.NewServer(
		config.WithFiber(config.NewFiber(logger)),
		config.WithLogger(logger),
		config.WithValidator(config.NewValidator()),
		config.WithMiddleware(env.RateLimitRPS, env.RateLimitBurst),
		config.WithLayout(layout),
		config.WithSupervisor(sup),
		config.WithStatusMirror(statusMirror),
		config.WithUtils(),
	)
	if err != nil {
		logger.Fatal(err)
	}

	server.RegisterHandler()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(env.APIHost, env.APIPort); err != nil {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	<-sigChan
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), env.StopGrace+10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown incomplete: %v", err)
	}
}
