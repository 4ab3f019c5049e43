package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dailydrip/internal/api"
	"github.com/kalambet/dailydrip/internal/config"
	"github.com/kalambet/dailydrip/internal/ingest"
	"github.com/kalambet/dailydrip/internal/observability"
	"github.com/kalambet/dailydrip/internal/rag"
	"github.com/kalambet/dailydrip/internal/retrieval"
	"github.com/kalambet/dailydrip/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the retrieval server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		mcp, _ := cmd.Flags().GetBool("mcp")
		noSeed, _ := cmd.Flags().GetBool("no-seed")
		return runServer(serveOptions{host: host, mcp: mcp, seed: !noSeed})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running dailydrip server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dailydrip server and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "interface to listen on")
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
	serveCmd.Flags().Bool("no-seed", false, "skip loading storage.seed_path into an empty collection")
}

type serveOptions struct {
	host string
	mcp  bool
	seed bool
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "dailydrip.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(opts serveOptions) error {
	fmt.Fprintf(os.Stderr, "dailydrip version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	// Refuse to start twice on the same port.
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	pidPath := pidFilePath(cfg.Storage.PersistDir)
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("dailydrip is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("dailydrip is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    "dailydrip",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}()
	if tp.Enabled() {
		logger.Info("exporting traces", "endpoint", cfg.Tracing.OTLPEndpoint)
	}

	embedder, err := newEmbedder(ctx, cfg, true, os.Stderr)
	if err != nil {
		return err
	}

	// Build history and the ingest job queue.
	store, err := storage.Open(cfg.Storage.PersistDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	cache := retrieval.NewHandleCache(storeConfig(cfg))
	defer cache.Close()

	svc := rag.NewService(cache, embedder, serviceConfig(cfg), logger)
	pipeline := ingest.NewPipeline(cache, embedder, cfg.Storage.Collection, store, ingest.Options{
		ArtifactDir: cfg.ArtifactDir(),
		PersistDir:  cfg.Storage.PersistDir,
	}, logger)

	if opts.seed {
		seedIfEmpty(ctx, svc, pipeline, cfg.Storage.SeedPath, logger)
	}

	// Compose top-level router: public retrieval routes + admin routes.
	topRouter := chi.NewRouter()
	topRouter.Mount("/", api.NewRAGHandler(svc, cfg.Server.AdminToken))
	if cfg.Server.AdminToken != "" {
		topRouter.Mount("/admin", api.NewAdminHandler(api.AdminDeps{
			Store:     store,
			Token:     cfg.Server.AdminToken,
			UploadDir: cfg.UploadDir(),
		}))
	} else {
		logger.Info("admin token not set; /admin and /feedback are disabled")
	}

	addr := net.JoinHostPort(opts.host, strconv.Itoa(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}
	srv := &http.Server{
		Handler:           topRouter,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "dailydrip listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Offline builds touch the reindex stamp; drop the cached handle so the
	// next query sees the new index.
	g.Go(func() error {
		if err := retrieval.WatchReindex(gctx, cfg.Storage.PersistDir, cache, logger); err != nil {
			logger.Warn("reindex watcher stopped", "error", err)
		}
		return nil
	})

	worker := ingest.NewWorker(store, pipeline, 500*time.Millisecond, logger)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	if opts.mcp {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Service: svc,
			Builds:  store,
			Version: version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		logger.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

// seedIfEmpty loads the seed file when the collection is missing or empty.
func seedIfEmpty(ctx context.Context, svc *rag.Service, p *ingest.Pipeline, path string, logger *slog.Logger) {
	if path == "" {
		return
	}
	if h := svc.Health(ctx); h.Count > 0 {
		return
	}
	rep, err := p.SeedDefault(ctx, path)
	if err != nil {
		logger.Error("seeding default data", "path", path, "error", err)
		return
	}
	if rep.BuildID != "" {
		logger.Info("seeded default data", "path", path, "records", rep.Records, "added", rep.Index.Added)
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.PersistDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("dailydrip is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop dailydrip (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to dailydrip (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}
	client := clientFor(cfg)
	client.httpClient.Timeout = 2 * time.Second

	var health rag.Health
	resp, err := client.get(ctx, "/health")
	running := err == nil
	switch {
	case !running:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusServiceUnavailable:
		printStatus("Server", "running at %s", client.baseURL)
		// An unhealthy index still answers with a health body.
		err := json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		if err == nil {
			printStatus("Collection", "%s (%s, %d chunks)", health.Collection, health.Status, health.Count)
			if health.Error != "" {
				printStatus("Index", "%s", health.Error)
			}
		}
	default:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	printStatus("Engine", "%s", cfg.Engine.Kind)
	printStatus("Embed model", "%s", embedModel(cfg))
	printStatus("Store", "%s", cfg.Storage.Backend)

	if running && client.token != "" {
		var builds []storage.Build
		if resp, err := client.get(ctx, "/admin/builds?limit=1"); err == nil && decodeJSON(resp, &builds) == nil && len(builds) > 0 {
			b := builds[0]
			printStatus("Last build", "%s %s (%d records, %s)", b.ID, b.Status, b.Records, b.FinishedAt.Local().Format(time.RFC3339))
		}
	}

	printStatus("Persist dir", "%s", cfg.Storage.PersistDir)
	return nil
}
