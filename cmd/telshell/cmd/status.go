package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/msto63/telshell/pkg/core/config"
	coreGrpc "github.com/msto63/telshell/pkg/core/grpc"
	"github.com/msto63/telshell/pkg/core/health"
	"github.com/msto63/telshell/pkg/core/version"
)

var (
	statusAddress string
	statusJSON    bool
	statusTimeout time.Duration
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	unknownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
)

// statusServices are the health check names registered by serve
var statusServices = []string{
	"",
	"listener.tcp",
	"slots.tcp",
	"listener.websocket",
	"slots.websocket",
	"audit",
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health",
	Long: `Queries the gRPC health service of a running telshell and dials
the shell ports from the outside. Each reachability check opens and
closes one short session on the server.

Examples:
  telshell status
  telshell status --address 10.0.0.5:9323
  telshell status --json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAddress, "address", "", "admin address (default: from config)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw health responses as JSON")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 3*time.Second, "request timeout")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("config not loaded", err)
		return err
	}
	address := statusAddress
	if address == "" {
		address = net.JoinHostPort(dialHost(cfg.Admin.Host), strconv.Itoa(cfg.Admin.Port))
	}

	clientCfg := coreGrpc.DefaultClientConfig(address)
	clientCfg.Timeout = statusTimeout
	conn, err := coreGrpc.Dial(clientCfg)
	if err != nil {
		printError("admin endpoint not reachable", err)
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	responses := make(map[string]*grpc_health_v1.HealthCheckResponse, len(statusServices))
	var overallErr error
	for _, service := range statusServices {
		resp, err := coreGrpc.CheckHealth(ctx, conn, service)
		if err != nil {
			if service == "" && status.Code(err) != codes.NotFound {
				overallErr = err
				break
			}
			continue
		}
		responses[service] = resp
	}

	reachable := checkEndpoints(ctx, cfg)

	if statusJSON {
		return printStatusJSON(responses, reachable)
	}

	fmt.Println(titleStyle.Render("telshell " + address))
	if overallErr != nil {
		fmt.Printf("  %s %-20s %v\n", failStyle.Render("[-]"), "server", overallErr)
	} else {
		for _, service := range statusServices {
			name := service
			if name == "" {
				name = "server"
			}
			resp, ok := responses[service]
			switch {
			case !ok:
				fmt.Printf("  %s %-20s %s\n", unknownStyle.Render("[?]"), name, unknownStyle.Render("not registered"))
			case resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING:
				fmt.Printf("  %s %-20s %s\n", okStyle.Render("[+]"), name, resp.GetStatus())
			default:
				fmt.Printf("  %s %-20s %s\n", failStyle.Render("[-]"), name, resp.GetStatus())
			}
		}
	}

	fmt.Println(titleStyle.Render("reachability"))
	for _, result := range reachable.Checks {
		mark := okStyle.Render("[+]")
		if result.Status != health.StatusHealthy {
			mark = failStyle.Render("[-]")
		}
		fmt.Printf("  %s %-20s %s\n", mark, result.Name, result.Message)
	}
	return overallErr
}

// checkEndpoints dials the shell listeners from the outside. The admin
// endpoint only reports what the server believes about itself.
func checkEndpoints(ctx context.Context, cfg *config.Config) *health.Report {
	reachable := health.NewRegistry(cfg.General.Name, version.Version)
	shellAddr := net.JoinHostPort(dialHost(cfg.Shell.Host), strconv.Itoa(cfg.Shell.Port))
	reachable.Register(health.TCPCheck("shell.tcp", shellAddr, statusTimeout))
	if cfg.WebSocket.Enabled {
		wsAddr := net.JoinHostPort(dialHost(cfg.WebSocket.Host), strconv.Itoa(cfg.WebSocket.Port))
		reachable.Register(health.TCPCheck("shell.websocket", wsAddr, statusTimeout))
	}
	return reachable.Check(ctx)
}

func printStatusJSON(responses map[string]*grpc_health_v1.HealthCheckResponse, reachable *health.Report) error {
	services := make(map[string]json.RawMessage, len(responses))
	for service, resp := range responses {
		data, err := protojson.Marshal(resp)
		if err != nil {
			return err
		}
		if service == "" {
			service = "server"
		}
		services[service] = data
	}

	out := struct {
		Services  map[string]json.RawMessage `json:"services"`
		Reachable []health.CheckResult       `json:"reachability"`
	}{services, reachable.Checks}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
