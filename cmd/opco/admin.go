package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/Zia971/opcopilotV4/internal/app"
	"github.com/Zia971/opcopilotV4/internal/config"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/engine"
	"github.com/Zia971/opcopilotV4/internal/refdata"
	"github.com/Zia971/opcopilotV4/internal/repo"
	"github.com/Zia971/opcopilotV4/internal/server"
)

func catalogCmd() *cobra.Command {
	c := &cobra.Command{Use: "catalog", Short: "Phase templates per operation type"}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tpls := e.Templates()
				if jsonOutput() {
					return printJSON(tpls)
				}
				tw := newTable(table.Row{"Type", "Phases", "Description"})
				for _, t := range tpls {
					tw.AppendRow(table.Row{t.Type, t.NbPhases, t.Description})
				}
				tw.Render()
				return nil
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "show <type>",
		Short: "Show the phases of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Template(args[0])
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(t)
				}
				printTemplate(t)
				return nil
			})
		},
	})
	return c
}

func printTemplate(t domain.Template) {
	tw := newTable(table.Row{"N°", "Phase", "Durée", "Responsable", "Critique"})
	for i, b := range t.Phases {
		critical := ""
		if b.EstCritique {
			critical = "oui"
		}
		tw.AppendRow(table.Row{i + 1, b.Nom, fmt.Sprintf("%d j", b.DureeJours), b.ResponsableType, critical})
	}
	tw.SetCaption("%s: %s", t.Type, t.Description)
	tw.Render()
}

func dataCmd() *cobra.Command {
	c := &cobra.Command{Use: "data", Short: "Reference dataset"}
	c.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load the reference documents and report what was decoded",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := appOptions()
			cfg, err := loadConfigOnly(opts)
			if err != nil {
				return err
			}
			snap, loadErr := refdata.Load(refdata.SourceFromConfig(cfg, opts.Workspace), zap.NewNop())
			out := map[string]any{"ok": loadErr == nil, "counts": snap.Counts(), "diagnostics": snap.Diagnostics}
			if loadErr != nil {
				out["error"] = loadErr.Error()
			}
			if jsonOutput() {
				if err := printJSON(out); err != nil {
					return err
				}
				return loadErr
			}
			tw := newTable(table.Row{"Section", "Entrées"})
			for _, k := range sortedKeys(snap.Counts()) {
				tw.AppendRow(table.Row{k, snap.Counts()[k]})
			}
			tw.Render()
			for _, d := range snap.Diagnostics {
				printf("! %s\n", d)
			}
			if loadErr != nil {
				return loadErr
			}
			printf("données de référence OK\n")
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "import",
		Short: "Copy the reference operations into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := appOptions()
			opts.Source = engine.SourceWorkspace
			a, err := app.Open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Engine.ImportReferenceData(cmd.Context(), nil, actorID())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(res)
			}
			printf("%d opération(s) importée(s), %d ignorée(s)\n", len(res.Imported), len(res.Skipped))
			for _, k := range sortedKeys(res.Counts) {
				printf("  %s: %d\n", k, res.Counts[k])
			}
			return nil
		},
	})
	return c
}

func loadConfigOnly(opts app.Options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.FromFile(opts.ConfigPath)
	} else {
		cfg, err = config.LoadOptional(opts.Workspace)
	}
	if err != nil {
		return nil, err
	}
	if opts.Demo {
		config.DemoOverrides(cfg)
	}
	return cfg, nil
}

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Workspace configuration",
		Long:  "opcopilot.yml holds the engine policy (mode, thresholds, durations), the reference data paths, the server and log settings and the intent webhooks.",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default opcopilot.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			printf("wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	c.AddCommand(initCmd)
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOnly(appOptions())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfigOnly(appOptions())
			if jsonOutput() {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			printf("config OK\n")
			return nil
		},
	})
	return c
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Event log"}
	var f repo.EventFilter
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.EventLog(ctx, f)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(evts)
				}
				tw := newTable(table.Row{"ID", "Horodatage", "Type", "Opération", "Acteur", "Données"})
				for _, ev := range evts {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.OperationID, ev.ActorID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	tail.Flags().Int64Var(&f.OperationID, "operation", 0, "operation id filter")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	c.AddCommand(tail)
	return c
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Serves the API with its OpenAPI document at <base-path>/openapi.json and docs at /docs. Reference data is reloaded on change when data.watch is set, and queued intents are pushed to the configured webhooks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
					addr = a.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
					basePath = a.Config.Server.BasePath
				}
				secret := a.Config.Server.JWTSecret
				if env := viper.GetString("jwt-secret"); env != "" {
					secret = env
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret},
					Logger:   a.Log,
				})
				if err != nil {
					return err
				}

				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				stopWatcher, err := a.Background(ctx)
				if err != nil {
					return err
				}
				defer stopWatcher()

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					a.Log.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath), zap.String("source", a.Engine.Source))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
