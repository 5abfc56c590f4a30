package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/foundry-erp/updater/internal/bridge"
	"github.com/foundry-erp/updater/internal/config"
	"github.com/foundry-erp/updater/internal/httpclient"
	"github.com/foundry-erp/updater/internal/logger"
	"github.com/foundry-erp/updater/internal/notify"
	"github.com/foundry-erp/updater/internal/selfupdate"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	configDir := flag.String("config-dir", "", "Configuration directory (default: ~/.foundry-updater)")
	listenAddr := flag.String("listen-addr", "", "Override listen address from config (default: 127.0.0.1)")
	port := flag.Int("port", 0, "Override port from config")
	logLevel := flag.String("log-level", "", "Override log level (debug/info/warn/error)")
	showVersion := flag.Bool("version", false, "Show version information")
	checkOnly := flag.Bool("check", false, "Check for an update, print the result as JSON and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("foundry-updater %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfgDir := *configDir
	if cfgDir == "" {
		cfgDir = config.GetConfigDir()
	}

	cfg, err := config.Load(cfgDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Apply command line overrides
	if *listenAddr != "" {
		cfg.Global.ListenAddr = *listenAddr
	}
	if *port > 0 {
		cfg.Global.Port = *port
	}
	if *logLevel != "" {
		cfg.Global.LogLevel = config.LogLevel(*logLevel)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(cfg.Global.LogLevel)

	if *checkOnly {
		// Keep stdout clean for the JSON result.
		logger.SetOutput(os.Stderr)
		svc, err := newService(cfg, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}
		os.Exit(runCheck(svc))
	}

	logFile, err := configureFileLogging(cfgDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log file setup failed: %v\n", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	notify.Configure(cfg.Notifications)
	defer notify.Shutdown()
	logger.SetHook(notify.LogHook)

	var quitOnce sync.Once
	quitCh := make(chan struct{})
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	svc, err := newService(cfg, quit)
	if err != nil {
		logger.Error("update service setup failed: %v", err)
		os.Exit(1)
	}
	if err := selfupdate.CleanupStaleInstallers(svc.DownloadDir(), ""); err != nil {
		logger.Warn("stale installer cleanup: %v", err)
	}

	startupDelay, _ := cfg.Update.StartupCheckDelayDuration()
	interval, _ := cfg.Update.CheckIntervalDuration()
	srv := bridge.New(svc, bridge.Options{
		ListenAddr:        cfg.Global.ListenAddr,
		Port:              cfg.Global.Port,
		Token:             cfg.Global.BridgeToken,
		MaxConnections:    cfg.Global.MaxConnections,
		StartupCheckDelay: startupDelay,
		CheckInterval:     interval,
	})

	logger.Info("foundry-updater %s checking %s", version, cfg.Update.ReleaseEndpoint())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal %s, shutting down...", sig.String())
		if err := srv.Stop(); err != nil {
			logger.Warn("graceful shutdown failed: %v", err)
		}
	case <-quitCh:
		logger.Info("installer launched, exiting")
		if err := srv.Stop(); err != nil {
			logger.Warn("graceful shutdown failed: %v", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped with error: %v", err)
			os.Exit(1)
		}
	}

	logger.Info("foundry-updater stopped")
}

func newService(cfg *config.Config, quit func()) (*selfupdate.UpdateService, error) {
	checkTimeout, err := cfg.Update.CheckTimeoutDuration()
	if err != nil {
		return nil, err
	}
	downloadTimeout, err := cfg.Update.DownloadTimeoutDuration()
	if err != nil {
		return nil, err
	}
	quitDelay, err := cfg.Update.QuitDelayDuration()
	if err != nil {
		return nil, err
	}

	client, err := httpclient.New(httpclient.Options{TLSClientHello: cfg.Update.TLSClientHello})
	if err != nil {
		return nil, err
	}

	userAgent := "foundry-updater/" + version
	return selfupdate.NewUpdateService(selfupdate.ServiceOptions{
		CurrentVersion:  version,
		Source:          selfupdate.NewReleaseSource(client, cfg.Update.ReleaseEndpoint(), userAgent, cfg.Update.Retries()),
		Downloader:      selfupdate.NewDownloader(client, cfg.Update.DownloadDir, userAgent),
		CheckTimeout:    checkTimeout,
		DownloadTimeout: downloadTimeout,
		QuitDelay:       quitDelay,
		VerifyChecksums: cfg.Update.ShouldVerifyChecksums(),
		DownloadPageURL: cfg.Update.DownloadPageURL,
		FallbackPageURL: cfg.Update.ReleasesPageURL(),
		Quit:            quit,
	}), nil
}

func runCheck(svc *selfupdate.UpdateService) int {
	res := svc.CheckForUpdate(context.Background())
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		return 1
	}
	if res.Error != nil {
		return 1
	}
	return 0
}

func configureFileLogging(cfgDir string, cfg *config.Config) (*logger.RotatingFileWriter, error) {
	logDir := strings.TrimSpace(cfg.Global.LogDir)
	if logDir == "" {
		logDir = filepath.Join(cfgDir, "logs")
	}

	retention := cfg.Global.LogRetentionDays
	if retention <= 0 {
		retention = 7
	}

	w, err := logger.NewRotatingFileWriter(logDir, "foundry-updater", retention)
	if err != nil {
		return nil, err
	}
	logger.ConfigureFileOutput(w, cfg.Global.LogStdout == nil || *cfg.Global.LogStdout)
	return w, nil
}
