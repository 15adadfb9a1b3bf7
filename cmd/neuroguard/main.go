package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	logpkg "github.com/smalok/NeuroGuard/common/logger"
	"github.com/smalok/NeuroGuard/internal/config"
	"github.com/smalok/NeuroGuard/internal/service"
	"go.uber.org/zap"
)

func main() {
	exportPath := flag.String("export", "", "write stored sessions to this .xlsx file and exit")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "neuroguard")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting neuroguard signal service",
		zap.String("device_id", cfg.Device.ID),
		zap.String("transport", cfg.Device.Transport),
		zap.String("storage", cfg.Storage.Backend),
		zap.Duration("tick_interval", cfg.Pipeline.TickInterval),
		zap.Int("buffer_size", cfg.Pipeline.BufferSize),
	)

	svc, err := service.NewSignalService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create signal service", zap.Error(err))
	}

	if *exportPath != "" {
		runExport(svc, *exportPath, logger)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		logger.Fatal("Failed to start signal service", zap.Error(err))
	}

	// SIGUSR1 触发一次完整 ECG 分析
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	for sig := range sigChan {
		if sig == syscall.SIGUSR1 {
			report, err := svc.AnalyzeNow(ctx)
			if err != nil {
				logger.Warn("On-demand analysis failed", zap.Error(err))
				continue
			}
			logger.Info("On-demand analysis complete",
				zap.Float64("hr_bpm", report.Intervals.HRBPM),
				zap.String("rhythm", string(report.Rhythm.Type)),
				zap.Strings("interpretation", report.Interpretation),
			)
			continue
		}

		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		break
	}

	// 优雅关闭
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := svc.Stop(stopCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}

func runExport(svc *service.SignalService, path string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer svc.Stop(ctx)

	n, err := svc.ExportSessions(ctx, path)
	if err != nil {
		logger.Error("Export failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("Export complete", zap.String("path", path), zap.Int("sessions", n))
}
