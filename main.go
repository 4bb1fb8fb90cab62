package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ofiflow/config"
	"ofiflow/internal/metrics"
	"ofiflow/logger"
	"ofiflow/processor"
	"ofiflow/reader"
	"ofiflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Ofiflow.Name,
		"version": cfg.Ofiflow.Version,
		"env":     config.AppEnvironment(),
		"config":  path,
	}).Info("starting ofiflow")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).WithFields(logger.Fields{"kind": processor.ErrorKind(err)}).Error("ofiflow run failed")
		logger.LogReport(context.Background(), log, logger.Fields{"status": "failed"})
		os.Exit(1)
	}

	logger.LogReport(context.Background(), log, logger.Fields{"status": "ok"})
	log.Info("ofiflow finished")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Log) error {
	metrics.Init()
	if addr := cfg.Metrics.PrometheusAddr; addr != "" {
		srv := metrics.Serve(addr, func(err error) {
			log.WithComponent("metrics").WithError(err).Warn("metrics server stopped")
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				log.WithComponent("metrics").WithError(err).Warn("metrics server shutdown failed")
			}
		}()
		log.WithComponent("metrics").WithFields(logger.Fields{"addr": addr}).Info("serving prometheus metrics")
	}

	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		logger.InitCloudWatch(ctx, cw.Region, cw.Namespace, cw.Dashboard)
	}

	exporter, err := writer.NewExporter(ctx, cfg)
	if err != nil {
		return err
	}

	lob, trades, err := reader.NewSyntheticReader(cfg.Source.Synthetic).Read(ctx)
	if err != nil {
		return err
	}

	res, err := processor.NewPipeline(cfg).Run(ctx, lob, trades)
	if err != nil {
		return err
	}

	files, err := exporter.Export(ctx, res.RunID, res.Rows)
	if err != nil {
		return err
	}

	log.WithComponent("main").WithFields(logger.Fields{
		"run_id":          res.RunID,
		"bars":            len(res.Bars),
		"labeled_rows":    res.Complete,
		"incomplete_rows": res.Incomplete,
		"files":           len(files),
	}).Info("run summary")
	return nil
}
