package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/msto63/telshell/internal/shell/audit"
	"github.com/msto63/telshell/internal/shell/builtins"
)

var (
	auditLimit     int
	auditSession   string
	auditKind      string
	auditJSON      bool
	auditOlderThan int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the session audit trail",
	Long: `Reads the SQLite audit store written by serve.

Examples:
  telshell audit recent -n 50
  telshell audit recent --session 3f2c... --kind command
  telshell audit stats
  telshell audit prune --days 7`,
}

var auditRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent events",
	RunE:  runAuditRecent,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate counts",
	RunE:  runAuditStats,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete events older than the retention window",
	RunE:  runAuditPrune,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditRecentCmd, auditStatsCmd, auditPruneCmd)

	auditRecentCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "number of events")
	auditRecentCmd.Flags().StringVar(&auditSession, "session", "", "only this session ID")
	auditRecentCmd.Flags().StringVar(&auditKind, "kind", "", "session_opened, session_closed or command")
	auditRecentCmd.Flags().BoolVar(&auditJSON, "json", false, "print events as JSON")
	auditStatsCmd.Flags().BoolVar(&auditJSON, "json", false, "print stats as JSON")
	auditPruneCmd.Flags().IntVar(&auditOlderThan, "days", 0, "retention in days (default: from config)")
}

func openAuditStore() (*audit.Store, int, error) {
	cfg, err := loadConfig()
	if err != nil {
		printError("config not loaded", err)
		return nil, 0, err
	}
	store, err := audit.Open(audit.Config{Path: cfg.Audit.Path})
	if err != nil {
		printError("audit store not opened", err)
		return nil, 0, err
	}
	return store, cfg.Audit.RetentionDays, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#6B7280"))
)

func runAuditRecent(cmd *cobra.Command, args []string) error {
	store, _, err := openAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Query(context.Background(), audit.Filter{
		Kind:      audit.Kind(auditKind),
		SessionID: auditSession,
		Limit:     auditLimit,
	})
	if err != nil {
		printError("audit query failed", err)
		return err
	}

	if auditJSON {
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	if len(events) == 0 {
		fmt.Println("No audit events.")
		return nil
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))).
		Headers("TIME", "SERVER", "KIND", "SLOT", "SESSION", "REMOTE", "DETAIL").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 0 || col == 4 {
				return dimStyle
			}
			return cellStyle
		})

	for _, ev := range events {
		t.Row(
			ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
			ev.Server,
			string(ev.Kind),
			strconv.Itoa(ev.Slot),
			shortID(ev.SessionID),
			ev.RemoteAddr,
			eventDetail(ev),
		)
	}
	fmt.Println(t)
	return nil
}

func eventDetail(ev audit.Event) string {
	switch ev.Kind {
	case audit.KindCommand:
		if !ev.Known {
			return fmt.Sprintf("%q (unknown)", ev.Input)
		}
		return fmt.Sprintf("%s in %s", ev.Command, builtins.FormatDuration(ev.Duration))
	case audit.KindSessionClosed:
		return fmt.Sprintf("%s after %s", ev.Reason, builtins.FormatDuration(ev.Duration))
	default:
		return ""
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runAuditStats(cmd *cobra.Command, args []string) error {
	store, _, err := openAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		printError("audit stats failed", err)
		return err
	}

	if auditJSON {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return headerStyle
			}
			return cellStyle
		}).
		Row("events", strconv.FormatInt(stats.Events, 10)).
		Row("sessions", strconv.FormatInt(stats.Sessions, 10)).
		Row("commands", strconv.FormatInt(stats.Commands, 10)).
		Row("unknown commands", strconv.FormatInt(stats.UnknownCommands, 10)).
		Row("oldest", formatStatsTime(stats.Oldest)).
		Row("newest", formatStatsTime(stats.Newest))
	fmt.Println(t)
	return nil
}

func formatStatsTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func runAuditPrune(cmd *cobra.Command, args []string) error {
	store, retentionDays, err := openAuditStore()
	if err != nil {
		return err
	}
	defer store.Close()

	days := auditOlderThan
	if days <= 0 {
		days = retentionDays
	}
	if days <= 0 {
		err := fmt.Errorf("no retention window: set --days or audit.retention_days")
		printError("nothing to prune", err)
		return err
	}

	n, err := store.Prune(context.Background(), time.Duration(days)*24*time.Hour)
	if err != nil {
		printError("audit prune failed", err)
		return err
	}
	fmt.Printf("Pruned %d events older than %d days.\n", n, days)
	return nil
}
