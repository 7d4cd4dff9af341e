package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/msto63/telshell/internal/shell/audit"
	"github.com/msto63/telshell/internal/shell/builtins"
	"github.com/msto63/telshell/internal/shell/registry"
	"github.com/msto63/telshell/internal/shell/server"
	"github.com/msto63/telshell/internal/shell/transport"
	"github.com/msto63/telshell/pkg/core/config"
	coreGrpc "github.com/msto63/telshell/pkg/core/grpc"
	"github.com/msto63/telshell/pkg/core/health"
	"github.com/msto63/telshell/pkg/core/logging"
	"github.com/msto63/telshell/pkg/core/version"
)

var (
	servePort       int
	serveHost       string
	serveMaxClients int
	serveNoAudit    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the shell server",
	Long: `Starts the shell on TCP, and on WebSocket and the gRPC admin
endpoint when they are enabled in the config.

Examples:
  telshell serve                        # settings from config
  telshell serve --port 2323            # override the TCP port
  telshell serve --max-clients 10 -v    # more slots, debug logging`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "TCP port (default: from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind host (default: from config)")
	serveCmd.Flags().IntVar(&serveMaxClients, "max-clients", 0, "connection slots (default: from config)")
	serveCmd.Flags().BoolVar(&serveNoAudit, "no-audit", false, "disable the audit trail")
}

// endpoint is one running shell server and the audit recorder feeding from it
type endpoint struct {
	name     string
	server   *server.Server
	recorder *audit.Recorder
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("config not loaded", err)
		return err
	}
	if servePort != 0 {
		cfg.Shell.Port = servePort
	}
	if serveHost != "" {
		cfg.Shell.Host = serveHost
	}
	if serveMaxClients != 0 {
		cfg.Shell.MaxClients = serveMaxClients
	}
	if serveNoAudit {
		cfg.Audit.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		printError("invalid config", err)
		return err
	}

	level := cfg.General.LogLevel
	if verbose {
		level = "debug"
	}
	logging.Configure(logging.LoggerConfig{
		ServiceName: cfg.General.Name,
		Level:       level,
		Format:      cfg.General.LogFormat,
	})
	logger := logging.New("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *audit.Store
	if cfg.Audit.Enabled {
		store, err = audit.Open(audit.Config{Path: cfg.Audit.Path})
		if err != nil {
			printError("audit store not opened", err)
			return err
		}
		defer store.Close()

		if cfg.Audit.RetentionDays > 0 {
			retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
			if n, err := store.Prune(ctx, retention); err != nil {
				logger.WarnWithErr("audit prune failed", err)
			} else if n > 0 {
				logger.Info("audit events pruned", "count", n, "retention_days", cfg.Audit.RetentionDays)
			}
		}
	}

	var endpoints []*endpoint
	defer func() {
		for _, ep := range endpoints {
			ep.server.StopServer()
			if ep.recorder != nil {
				ep.recorder.Close()
			}
		}
	}()

	tcp, err := newEndpoint("tcp", cfg, store)
	if err != nil {
		return err
	}
	endpoints = append(endpoints, tcp)
	if err := tcp.server.StartServer(cfg.Shell.Port); err != nil {
		printError("shell not started", err)
		return err
	}
	fmt.Printf("telshell listening on %s (%d slots)\n", tcp.server.Addr(), tcp.server.Capacity())

	if cfg.WebSocket.Enabled {
		ws, err := newEndpoint("websocket", cfg, store)
		if err != nil {
			return err
		}
		endpoints = append(endpoints, ws)

		ln, err := transport.ListenWebSocket(cfg.WebSocketAddress(), cfg.WebSocket.Path)
		if err != nil {
			printError("websocket not started", err)
			return err
		}
		if err := ws.server.StartListener(ln); err != nil {
			ln.Close()
			printError("websocket not started", err)
			return err
		}
		fmt.Printf("telshell websocket on ws://%s%s\n", ln.Addr(), cfg.WebSocket.Path)
	}

	if cfg.Admin.Enabled {
		admin, err := startAdmin(ctx, cfg, endpoints, store)
		if err != nil {
			printError("admin endpoint not started", err)
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			admin.StopWithTimeout(stopCtx)
		}()
		fmt.Printf("admin health on %s\n", admin.Address())
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(endpoints))
	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep *endpoint) {
			defer wg.Done()
			if err := ep.server.Serve(ctx, cfg.Shell.PollInterval.Duration); err != nil {
				errs <- fmt.Errorf("%s: %w", ep.name, err)
			}
		}(ep)
	}

	<-ctx.Done()
	fmt.Println("\nShutting down...")
	wg.Wait()
	close(errs)

	for err := range errs {
		logger.WarnWithErr("shell stopped with error", err)
	}
	logger.Info("telshell stopped")
	return nil
}

// newEndpoint builds a shell server from cfg. Each endpoint has its own
// registry so who lists the sessions of that endpoint.
func newEndpoint(name string, cfg *config.Config, store *audit.Store) (*endpoint, error) {
	ep := &endpoint{name: name}
	commands := registry.New(registry.WithLogger(logging.New("registry").With("endpoint", name)))

	opts := []server.Option{
		server.WithRegistry(commands),
		server.WithHost(cfg.Shell.Host),
		server.WithMaxClients(cfg.Shell.MaxClients),
		server.WithTimeout(cfg.Shell.IdleTimeout.Duration),
		server.WithLogger(logging.New("shell").With("endpoint", name)),
	}
	if cfg.Shell.Banner != "" {
		opts = append(opts, server.WithBanner(cfg.Shell.Banner))
	}
	if store != nil {
		ep.recorder = audit.NewRecorder(store, audit.RecorderConfig{
			Server: name,
			Logger: logging.New("audit").With("endpoint", name),
		})
		opts = append(opts, server.WithObserver(ep.recorder))
	}

	ep.server = server.New(opts...)
	ep.server.SetPrompt(cfg.Shell.User, cfg.Shell.Device)

	if err := builtins.Register(commands, ep.server); err != nil {
		printError("built-in commands not registered", err)
		return nil, err
	}
	return ep, nil
}

func startAdmin(ctx context.Context, cfg *config.Config, endpoints []*endpoint, store *audit.Store) (*coreGrpc.Server, error) {
	checks := health.NewRegistry(cfg.General.Name, version.Version)
	for _, ep := range endpoints {
		srv := ep.server
		checks.Register(health.ListenerCheck("listener."+ep.name, srv.Running, srv.Addr))
		checks.Register(health.SlotsCheck("slots."+ep.name, func() int { return len(srv.Sessions()) }, srv.Capacity()))
	}
	if store != nil {
		checks.Register(health.PingCheck("audit", store.Ping))
	}

	grpcCfg := coreGrpc.DefaultServerConfig()
	grpcCfg.Host = cfg.Admin.Host
	grpcCfg.Port = cfg.Admin.Port

	admin := coreGrpc.NewServer(grpcCfg)
	if err := admin.StartAsync(); err != nil {
		return nil, err
	}
	go admin.WatchHealth(ctx, checks, 5*time.Second)
	return admin, nil
}
