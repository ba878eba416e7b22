package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Zia971/opcopilotV4/internal/display"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/engine"
	"github.com/Zia971/opcopilotV4/internal/export"
	"github.com/Zia971/opcopilotV4/internal/timeline"
)

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show portfolio KPIs and alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Dashboard(ctx)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(d)
				}
				k := d.KPIs
				tw := newTable(table.Row{"Indicateur", "Valeur"})
				tw.AppendRows([]table.Row{
					{"Opérations actives", k.OperationsActives},
					{"Opérations clôturées", k.OperationsCloturees},
					{"REM réalisée", display.Money(k.REMRealisee)},
					{"REM prévue", display.Money(k.REMPrevue)},
					{"Taux de réalisation REM", display.Percent(&k.TauxRealisationREM)},
					{"Freins actifs", k.FreinsActifs},
					{"Freins critiques", k.FreinsCritiques},
					{"Échéances de la semaine", k.EcheancesSemaine},
					{"Validations requises", k.ValidationsRequises},
				})
				tw.SetCaption("source des indicateurs: %s", d.KPISource)
				tw.Render()
				printAlerts(d.Alerts)
				for _, diag := range d.Diagnostics {
					printf("! %s\n", diag)
				}
				return nil
			})
		},
	}
}

func alertsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "List alerts, most severe first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				alerts, err := e.Alerts(ctx)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(alerts)
				}
				printAlerts(alerts)
				return nil
			})
		},
	}
}

func printAlerts(alerts []domain.Alert) {
	if len(alerts) == 0 {
		printf("Aucune alerte\n")
		return
	}
	tw := newTable(table.Row{"Gravité", "Opération", "Message", "Action requise"})
	for _, a := range alerts {
		tw.AppendRow(table.Row{display.SeverityBadge(a.Severity), a.Operation, a.Message, a.ActionRequise})
	}
	tw.Render()
}

func portfolioCmd() *cobra.Command {
	var f engine.PortfolioFilter
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "List operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Portfolio(ctx, f)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(p)
				}
				tw := newTable(table.Row{"ID", "Opération", "Type", "Commune", "Statut", "Avancement", "Freins", "Retards", "Alertes"})
				for _, op := range p.Operations {
					tw.AppendRow(table.Row{op.ID, op.Nom, op.Type, op.Commune, op.Statut, display.Progress(op.Avancement), op.FreinsActifs, op.PhasesEnRetard, op.Alertes})
				}
				tw.AppendFooter(table.Row{"", fmt.Sprintf("%d opération(s)", p.Total)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "", "operation type filter")
	cmd.Flags().StringVar(&f.Statut, "status", "", "operation status filter")
	cmd.Flags().StringVar(&f.Commune, "commune", "", "commune filter")
	return cmd
}

func operationCmd() *cobra.Command {
	op := &cobra.Command{Use: "operation", Aliases: []string{"op"}, Short: "Manage operations"}
	op.AddCommand(operationShowCmd())
	op.AddCommand(operationCreateCmd())
	op.AddCommand(operationStatusCmd())
	op.AddCommand(operationTimelineCmd())
	op.AddCommand(operationExportCmd())
	return op
}

func operationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := operationID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Operation(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(o)
				}
				printOperation(o)
				return nil
			})
		},
	}
}

func printOperation(o domain.Operation) {
	tw := newTable(table.Row{"Champ", "Valeur"})
	tw.AppendRows([]table.Row{
		{"ID", o.ID},
		{"Nom", o.Nom},
		{"Type", o.Type},
		{"Commune", o.Commune},
		{"Statut", o.Statut},
		{"Avancement", display.Progress(o.Avancement)},
		{"Budget", display.Money(o.BudgetTotal)},
		{"Logements", o.NbLogementsTotal},
		{"Responsable ACO", o.ACOResponsable},
		{"Freins actifs", o.FreinsActifs},
		{"Création", display.Date(o.DateCreation)},
		{"Fin prévue", display.Date(o.DateFinPrevue)},
	})
	if o.Details.OPP != nil {
		tw.AppendRow(table.Row{"LLS / LTS / PLS", fmt.Sprintf("%d / %d / %d", o.Details.OPP.NbLLS, o.Details.OPP.NbLTS, o.Details.OPP.NbPLS)})
	}
	if o.Details.VEFA != nil {
		tw.AppendRow(table.Row{"Promoteur", o.Details.VEFA.Promoteur})
	}
	tw.Render()
}

func operationCreateCmd() *cobra.Command {
	var in engine.OperationCreate
	var start, end, promoteur, typeLogement string
	var nbLLS, nbLTS, nbPLS int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an operation and materialize its timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.DateDebutPrevue, err = dateFlag("start", start); err != nil {
				return err
			}
			if in.DateFinPrevue, err = dateFlag("end", end); err != nil {
				return err
			}
			switch strings.ToUpper(strings.TrimSpace(in.Type)) {
			case string(domain.TypeOPP):
				in.OPP = &domain.OPPDetails{NbLLS: nbLLS, NbLTS: nbLTS, NbPLS: nbPLS, TypeLogement: typeLogement}
			case string(domain.TypeVEFA):
				in.VEFA = &domain.VEFADetails{Promoteur: promoteur}
			}
			in.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateOperation(ctx, in)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(o)
				}
				printf("Opération %d créée: %s\n", o.ID, o.Nom)
				printOperation(o)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Nom, "nom", "", "operation name")
	cmd.Flags().StringVar(&in.Type, "type", "", "operation type (OPP, VEFA, MANDAT_ETUDES, MANDAT_REALISATION, AMO)")
	cmd.Flags().StringVar(&in.Commune, "commune", "", "commune")
	cmd.Flags().Float64Var(&in.BudgetTotal, "budget", 0, "total budget")
	cmd.Flags().IntVar(&in.NbLogementsTotal, "logements", 0, "number of dwellings")
	cmd.Flags().StringVar(&in.ACOResponsable, "aco", "", "ACO in charge")
	cmd.Flags().StringVar(&in.Adresse, "adresse", "", "address")
	cmd.Flags().StringVar(&in.Parcelle, "parcelle", "", "cadastral parcel")
	cmd.Flags().StringVar(&start, "start", "", "planned start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "planned end (YYYY-MM-DD)")
	cmd.Flags().IntVar(&nbLLS, "nb-lls", 0, "OPP: LLS dwellings")
	cmd.Flags().IntVar(&nbLTS, "nb-lts", 0, "OPP: LTS dwellings")
	cmd.Flags().IntVar(&nbPLS, "nb-pls", 0, "OPP: PLS dwellings")
	cmd.Flags().StringVar(&typeLogement, "type-logement", "", "OPP: Collectif, Individuel or Mixte")
	cmd.Flags().StringVar(&promoteur, "promoteur", "", "VEFA: developer")
	_ = cmd.MarkFlagRequired("nom")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("commune")
	return cmd
}

func operationStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <EN_MONTAGE|EN_COURS|EN_RECEPTION>",
		Short: "Move an operation forward",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := operationID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.UpdateOperationStatus(ctx, id, args[1], actorID())
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(o)
				}
				printf("Opération %d: %s\n", o.ID, o.Statut)
				return nil
			})
		},
	}
}

func operationTimelineCmd() *cobra.Command {
	var delays bool
	cmd := &cobra.Command{
		Use:   "timeline <id>",
		Short: "Show the phase timeline with effective statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := operationID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tl, err := e.Timeline(ctx, id)
				if err != nil {
					return err
				}
				if delays {
					tl.Phases = timeline.DelayFocused(tl.Phases)
				}
				if jsonOutput() {
					return printJSON(tl)
				}
				printTimeline(tl)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&delays, "delays", false, "only delayed and blocked phases")
	return cmd
}

func printTimeline(tl timeline.Timeline) {
	if tl.Warning != "" {
		printf("! %s\n", tl.Warning)
	}
	tw := newTable(table.Row{"N°", "Phase", "Début", "Fin", "Statut", "Responsable", "Frein"})
	for _, p := range tl.Phases {
		name := p.Nom
		if p.EstCritique {
			name += " *"
		}
		status := display.Badge(p.EffectiveStatus)
		if p.DaysLate > 0 {
			status = fmt.Sprintf("%s (+%dj)", status, p.DaysLate)
		}
		tw.AppendRow(table.Row{p.Sequence, name, display.Date(p.PlannedStart), display.Date(p.PlannedEnd), status, p.Responsable, p.Frein})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d validée(s)", tl.Validated), "", "", fmt.Sprintf("%d frein(s), %d critique(s)", tl.ActiveBlockers, tl.CriticalBlockers)})
	tw.SetCaption("source: %s, * phase critique", tl.Source)
	tw.Render()
}

func operationExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export the planning as an xlsx workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := operationID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Operation(ctx, id)
				if err != nil {
					return err
				}
				tl, err := e.Timeline(ctx, id)
				if err != nil {
					return err
				}
				book, name, err := export.Planning(o, tl, e.Clock())
				if err != nil {
					return err
				}
				path := out
				if path == "" {
					path = name
				} else if info, err := os.Stat(path); err == nil && info.IsDir() {
					path = filepath.Join(path, name)
				}
				f, err := os.Create(path)
				if err != nil {
					book.Close()
					return err
				}
				if err := export.WritePlanning(f, book); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]any{"path": path, "phases": len(tl.Phases)})
				}
				printf("Planning écrit dans %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file or directory (default: generated name)")
	return cmd
}

func phaseCmd() *cobra.Command {
	ph := &cobra.Command{Use: "phase", Short: "Manage timeline phases"}
	ph.AddCommand(phaseUpdateCmd())
	return ph
}

func phaseUpdateCmd() *cobra.Command {
	var statut, responsable, frein, start, end string
	cmd := &cobra.Command{
		Use:   "update <operation-id> <sequence>",
		Short: "Update a phase; clearing --frein lifts the blocker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := operationID(args[0])
			if err != nil {
				return err
			}
			var seq int
			if _, err := fmt.Sscanf(args[1], "%d", &seq); err != nil {
				return fmt.Errorf("invalid sequence %q", args[1])
			}
			u := engine.PhaseUpdate{
				Statut:      optionalString(cmd, "statut", statut),
				Responsable: optionalString(cmd, "responsable", responsable),
				Frein:       optionalString(cmd, "frein", frein),
				ActorID:     actorID(),
			}
			if u.PlannedStart, err = dateFlag("start", start); err != nil {
				return err
			}
			if u.PlannedEnd, err = dateFlag("end", end); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.UpdatePhase(ctx, id, seq, u)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(view)
				}
				printf("Phase %d (%s): %s\n", view.Sequence, view.Nom, display.Badge(view.EffectiveStatus))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&statut, "statut", "", "recorded status")
	cmd.Flags().StringVar(&responsable, "responsable", "", "person in charge")
	cmd.Flags().StringVar(&frein, "frein", "", "blocker description (empty clears it)")
	cmd.Flags().StringVar(&start, "start", "", "planned start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "planned end (YYYY-MM-DD)")
	return cmd
}
