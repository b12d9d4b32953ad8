package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/instabrief/backend/internal/api"
	"github.com/instabrief/backend/internal/catalog"
	"github.com/instabrief/backend/internal/config"
	"github.com/instabrief/backend/internal/events"
	"github.com/instabrief/backend/internal/export"
	"github.com/instabrief/backend/internal/extract"
	"github.com/instabrief/backend/internal/history"
	"github.com/instabrief/backend/internal/session"
	"github.com/instabrief/backend/internal/storage"
	"github.com/instabrief/backend/internal/summarizer"
	"github.com/instabrief/backend/internal/web"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "instabrief: %v\n", err)
		os.Exit(1)
	}
}

func configPath() (string, error) {
	if p := os.Getenv("INSTABRIEF_CONFIG"); p != "" {
		return p, nil
	}
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(exePath), config.FileName), nil
}

func run() error {
	cfgPath, err := configPath()
	if err != nil {
		return err
	}

	// Load XML configuration
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)
	api.SetExposeDetails(cfg.LogLevel() <= slog.LevelDebug)

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	// Check if running in embedded mode (frontend built into binary)
	embeddedMode := web.HasEmbeddedFiles()

	// Initialize storage
	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	runs, err := history.Open(cfg.Storage.HistoryDatabase, history.Options{
		Threads:     cfg.Advanced.DuckDBThreads,
		MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer runs.Close()

	cat := catalog.Default()
	if cfg.Storage.CatalogFile != "" {
		if cat, err = catalog.Load(cfg.Storage.CatalogFile); err != nil {
			return fmt.Errorf("failed to load catalog: %w", err)
		}
	}

	defaults, err := cfg.DefaultSettings()
	if err != nil {
		return fmt.Errorf("invalid default settings: %w", err)
	}

	client := summarizer.NewClient(summarizer.Config{
		BaseURL:           cfg.ProcessingService.URL,
		Token:             cfg.ProcessingService.Token,
		Timeout:           cfg.ServiceTimeout(),
		RequestsPerSecond: cfg.ProcessingService.RequestsPerSecond,
		Burst:             cfg.ProcessingService.Burst,
	}, extract.NewDetector(cat.LanguageCodes()...), logger)

	hub := events.NewHub(cfg.Events.SubscriberBuffer, cfg.Events.HistorySize, logger)

	sessionMgr := session.NewManager(fileStore, client, hub, runs, session.Config{
		MaxSessions: cfg.Queue.MaxSessions,
		Workers:     cfg.Queue.Workers,
		Settings:    defaults,
	}, logger)
	// Runs on every exit path after stop has cancelled in-flight runs, and
	// before the deferred history close.
	defer sessionMgr.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background session cleanup
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessionMgr.CleanupIdle(cfg.SessionTimeout()); n > 0 {
					logger.Info("session.cleanup", "removed", n, "active", sessionMgr.Count())
				}
			}
		}
	}()

	handlers := api.NewHandlers(&api.Dependencies{
		Sessions:         sessionMgr,
		Store:            fileStore,
		Hub:              hub,
		History:          runs,
		Exporter:         export.NewExporter(logger),
		Catalog:          cat,
		Logger:           logger,
		Version:          Version,
		RunContext:       ctx,
		WSMaxMessageSize: int64(cfg.Events.WebSocketMaxMessageSize) * 1024,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.ErrorHandler

	// Configure middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || strings.HasSuffix(path, "/queue")
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"elapsed_ms", v.Latency.Milliseconds(),
				"remote", v.RemoteIP,
			}
			if v.Error != nil {
				logger.Warn("http.request", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Info("http.request", attrs...)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			return api.IsStreamingPath(c.Request().URL.Path) ||
				strings.HasSuffix(c.Request().URL.Path, "/files") ||
				c.Request().Header.Get("Accept") == "text/event-stream"
		},
		ErrorMessage: "Request timeout",
	}))

	// Compression middleware
	if cfg.Advanced.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Advanced.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				return api.IsStreamingPath(c.Request().URL.Path) ||
					c.Request().Header.Get("Accept") == "text/event-stream"
			},
		}))
	}

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	api.RegisterRoutes(e, handlers)
	api.RegisterWebSocketRoutes(e, handlers)

	// Register embedded frontend if available
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			logger.Warn("web.static_routes_failed", "error", err)
		}
	}

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cfgPath, cfg, embeddedMode)

	serveErr := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("server.shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server.shutdown_failed", "error", err)
	}
	stop()
	sessionMgr.CloseAll()
	logger.Info("server.stopped")
	return nil
}

func printBanner(cfgPath string, cfg *config.AppConfig, embeddedMode bool) {
	mode := "API only"
	if embeddedMode {
		mode = "Embedded UI"
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           InstaBrief Upload Gateway                       ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Mode:       %-45s║\n", mode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", cfgPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("║  Service:   %-46s║\n", cfg.ProcessingService.URL)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	if embeddedMode {
		fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
	}
}
