package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Zia971/opcopilotV4/internal/app"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/engine"
)

// stdout is swapped by tests.
var stdout io.Writer = os.Stdout

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "opco",
		Short: "Operation timeline and status engine",
		Long: `opco follows real-estate construction operations from set-up to closure.
- Operation: an OPP, VEFA, study or works mandate, or AMO assignment, with its budget and progress.
- Timeline: the dated phases of an operation, recorded or built from the template of its type.
- Effective status: the status a phase really has today, RETARD once its planned end has passed.
- Ledgers: REM quarters, amendments, final account, formal notices, utility connections and claims.
- Closure: the checklist that must be fully resolved before an operation becomes CLOTUREE.
- Sources: "workspace" reads the .opcopilot database, "reference" the bundled dataset.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadDotEnv(viper.GetString("workspace"))
		},
	}
	initConfig()
	addPersistentFlags(root)

	root.AddCommand(dashboardCmd())
	root.AddCommand(portfolioCmd())
	root.AddCommand(alertsCmd())
	root.AddCommand(operationCmd())
	root.AddCommand(phaseCmd())
	root.AddCommand(remCmd())
	root.AddCommand(amendmentCmd())
	root.AddCommand(finalAccountCmd())
	root.AddCommand(noticeCmd())
	root.AddCommand(utilityCmd())
	root.AddCommand(claimCmd())
	root.AddCommand(closureCmd())
	root.AddCommand(catalogCmd())
	root.AddCommand(dataCmd())
	root.AddCommand(configCmd())
	root.AddCommand(logCmd())
	root.AddCommand(serveCmd())
	return root
}

func initConfig() {
	viper.SetEnvPrefix("OPCOPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("source", "", "record source (workspace, reference)")
	flags.String("config", "", "config file (default <workspace>/opcopilot.yml)")
	flags.Bool("demo", false, "use the demo preset")
	for _, name := range []string{"workspace", "json", "actor-id", "source", "config", "demo"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// loadDotEnv reads <workspace>/.env without overriding variables already
// set in the environment.
func loadDotEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func appOptions() app.Options {
	return app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Source:     viper.GetString("source"),
		Demo:       viper.GetBool("demo"),
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, appOptions())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func actorID() string {
	if id := strings.TrimSpace(viper.GetString("actor-id")); id != "" {
		return id
	}
	return "local-user"
}

func jsonOutput() bool {
	return viper.GetBool("json")
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func printf(format string, args ...any) {
	fmt.Fprintf(stdout, format, args...)
}

func operationID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid operation id %q", arg)
	}
	return id, nil
}

// dateFlag parses an optional date flag; empty means unset.
func dateFlag(name, raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := domain.ParseDate(raw)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &t, nil
}

func optionalString(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}

func sortedKeys(m map[string]int) []string {
	return slices.Sorted(maps.Keys(m))
}
