package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Zia971/opcopilotV4/internal/display"
	"github.com/Zia971/opcopilotV4/internal/engine"
	"github.com/Zia971/opcopilotV4/internal/ledger"
)

// opCommand builds a command taking the operation id as its first argument.
func opCommand(use, short string, nargs int, run func(ctx context.Context, e engine.Engine, id int64, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := operationID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return run(ctx, e, id, args[1:])
			})
		},
	}
}

func printSignals(signals []ledger.Signal) {
	for _, s := range signals {
		printf("%s %s: %s\n", display.SeverityBadge(s.Severity), s.Title, s.Message)
	}
}

func remCmd() *cobra.Command {
	c := &cobra.Command{Use: "rem", Short: "Quarterly REM and works spending"}
	c.AddCommand(opCommand("show <id>", "Show the REM ledger", 1, func(ctx context.Context, e engine.Engine, id int64, _ []string) error {
		s, err := e.REM(ctx, id)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(s)
		}
		printREM(s)
		return nil
	}))
	c.AddCommand(remAddCmd())
	return c
}

func printREM(s ledger.REMSummary) {
	tw := newTable(table.Row{"Trimestre", "REM projetée", "REM réalisée", "Écart REM", "Dépenses projetées", "Dépenses facturées", "Écart dépenses"})
	for _, r := range s.Rows {
		tw.AppendRow(table.Row{r.Trimestre, display.Money(r.REMProjetee), display.Money(r.REMRealisee), display.Money(r.EcartREM),
			display.Money(r.DepensesProjetees), display.Money(r.DepensesFacturees), display.Money(r.EcartDepenses)})
	}
	tw.AppendFooter(table.Row{"Total", display.Money(s.Rent.TotalProjected), display.Money(s.Rent.TotalRealized), display.Money(s.Rent.TotalVariance),
		display.Money(s.Works.TotalProjected), display.Money(s.Works.TotalRealized), display.Money(s.Works.TotalVariance)})
	tw.SetCaption("réalisation REM: %s", display.Percent(s.Rent.RealizationPercentage))
	tw.Render()
	printSignals(s.Signals())
}

func remAddCmd() *cobra.Command {
	var in engine.REMInput
	cmd := &cobra.Command{
		Use:   "add <id> <trimestre>",
		Short: "Record the figures of a quarter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := operationID(args[0])
			if err != nil {
				return err
			}
			in.OperationID, in.Trimestre, in.ActorID = id, args[1], actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.AddREMEntry(ctx, in)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(s)
				}
				printREM(s)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&in.REMProjetee, "projetee", 0, "projected REM")
	cmd.Flags().Float64Var(&in.REMRealisee, "realisee", 0, "realized REM")
	cmd.Flags().Float64Var(&in.AvancementREM, "avancement-rem", 0, "REM progress percentage")
	cmd.Flags().Float64Var(&in.DepensesProjetees, "depenses-projetees", 0, "projected works spending")
	cmd.Flags().Float64Var(&in.DepensesFacturees, "depenses-facturees", 0, "invoiced works spending")
	cmd.Flags().Float64Var(&in.AvancementTravaux, "avancement-travaux", 0, "works progress percentage")
	return cmd
}

func amendmentCmd() *cobra.Command {
	c := &cobra.Command{Use: "amendment", Aliases: []string{"avenant"}, Short: "Contract amendments"}
	c.AddCommand(opCommand("list <id>", "List amendments and their impact", 1, func(ctx context.Context, e engine.Engine, id int64, _ []string) error {
		s, err := e.Amendments(ctx, id)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(s)
		}
		tw := newTable(table.Row{"N°", "Date", "Motif", "Impact budget", "Impact délai", "Statut"})
		for _, a := range s.Amendments {
			tw.AppendRow(table.Row{a.Numero, display.Date(a.Date), a.Motif, display.Money(a.ImpactBudget), fmt.Sprintf("%d j", a.ImpactDelai), a.Statut})
		}
		tw.AppendFooter(table.Row{s.Count, "", "Total", display.Money(s.BudgetImpact), fmt.Sprintf("%d j", s.DelayImpact), fmt.Sprintf("%d en attente", s.Pending)})
		tw.SetCaption("impact budget %s, impact délai %s", display.Percent(s.BudgetImpactPct), display.Percent(s.DelayImpactPct))
		tw.Render()
		printSignals(s.Signals())
		return nil
	}))
	c.AddCommand(amendmentAddCmd())
	return c
}

func amendmentAddCmd() *cobra.Command {
	var in engine.AmendmentInput
	var date string
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Draft the next amendment and request its validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := operationID(args[0])
			if err != nil {
				return err
			}
			if in.Date, err = dateFlag("date", date); err != nil {
				return err
			}
			in.OperationID, in.ActorID = id, actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.AddAmendment(ctx, in)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(a)
				}
				printf("Avenant n°%d enregistré (%s)\n", a.Numero, a.Statut)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Motif, "motif", "", "reason")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().Float64Var(&in.ImpactBudget, "impact-budget", 0, "budget impact")
	cmd.Flags().IntVar(&in.ImpactDelai, "impact-delai", 0, "delay impact in days")
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, default today)")
	_ = cmd.MarkFlagRequired("motif")
	return cmd
}

func finalAccountCmd() *cobra.Command {
	c := &cobra.Command{Use: "final-account", Aliases: []string{"dgd"}, Short: "Final account settlement"}
	c.AddCommand(opCommand("show <id>", "Show the final account", 1, func(ctx context.Context, e engine.Engine, id int64, _ []string) error {
		v, err := e.FinalAccount(ctx, id)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(v)
		}
		printFinalAccount(v)
		return nil
	}))
	c.AddCommand(finalAccountAddLotCmd())
	c.AddCommand(opCommand("advance <id>", "Complete the current settlement step", 1, func(ctx context.Context, e engine.Engine, id int64, _ []string) error {
		steps, err := e.AdvanceFinalAccountStep(ctx, id, actorID())
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(steps)
		}
		tw := newTable(table.Row{"N°", "Étape", "Responsable", "Statut"})
		for _, st := range steps {
			tw.AppendRow(table.Row{st.Sequence, st.Nom, st.Responsable, st.Statut})
		}
		tw.Render()
		return nil
	}))
	return c
}

func printFinalAccount(v engine.FinalAccountView) {
	tw := newTable(table.Row{"Lot", "Marché initial", "+/- values", "Pénalités", "Montant final", "Écart"})
	for _, l := range v.Lots {
		tw.AppendRow(table.Row{l.Nom, display.Money(l.MarcheInitial), display.Money(l.PlusMoinsValue), display.Money(l.Penalites), display.Money(l.MontantFinal), display.Percent(l.EcartPourcentage)})
	}
	tw.AppendFooter(table.Row{"Total", display.Money(v.MontantInitial), display.Money(v.PlusMoinsValues), display.Money(v.Penalites), display.Money(v.MontantFinal), display.Percent(v.EcartPourcentage)})
	tw.Render()
	for _, st := range v.Workflow {
		printf("  %d. %s [%s]\n", st.Sequence, st.Nom, st.Statut)
	}
	if v.Diagnostic != "" {
		printf("! %s\n", v.Diagnostic)
	}
}

func finalAccountAddLotCmd() *cobra.Command {
	var in engine.LotInput
	cmd := &cobra.Command{
		Use:   "add-lot <id> <nom>",
		Short: "Add a lot to the final account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := operationID(args[0])
			if err != nil {
				return err
			}
			in.OperationID, in.Nom, in.ActorID = id, args[1], actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				lot, err := e.AddFinalAccountLot(ctx, in)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(lot)
				}
				printf("Lot %s: montant final %s\n", lot.Nom, display.Money(lot.MontantFinal))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&in.MarcheInitial, "marche-initial", 0, "initial contract amount")
	cmd.Flags().Float64Var(&in.QuantitesReelles, "quantites-reelles", 0, "actual quantities amount")
	cmd.Flags().Float64Var(&in.PlusMoinsValue, "plus-moins-value", 0, "net additions and deductions")
	cmd.Flags().Float64Var(&in.Penalites, "penalites", 0, "penalties")
	return cmd
}

func noticeCmd() *cobra.Command {
	c := &cobra.Command{Use: "notice", Aliases: []string{"med"}, Short: "Formal notices"}
	c.AddCommand(opCommand("list <id>", "List formal notices and their deadlines", 1, func(ctx context.Context, e engine.Engine, id int64, _ []string) error {
		s, err := e.Notices(ctx, id)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(s)
		}
		tw := newTable(table.Row{"Référence", "Type", "Destinataire", "Envoi", "Échéance", "Statut"})
		for _, n := range s.Notices {
			due := display.Date(n.Echeance)
			if n.Overdue {
				due += " (dépassée)"
			}
			tw.AppendRow(table.Row{n.Reference, n.Type, n.Destinataire, display.Date(n.DateEnvoi), due, n.Statut})
		}
		tw.SetCaption("%d en attente, %d dépassée(s)", s.Pending, s.Overdue)
		tw.Render()
		printSignals(s.Signals())
		return nil
	}))
	c.AddCommand(noticeAddCmd())
	c.AddCommand(opCommand("remind <id>", "Remind the recipients of overdue notices", 1, func(ctx context.Context, e engine.Engine, id int64, _ []string) error {
		reminded, err := e.RemindNotices(ctx, id, actorID())
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(reminded)
		}
		printf("%d relance(s) programmée(s)\n", len(reminded))
		return nil
	}))
	return c
}

func noticeAddCmd() *cobra.Command {
	var in engine.NoticeInput
	var sent string
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Issue a formal notice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := operationID(args[0])
			if err != nil {
				return err
			}
			if in.DateEnvoi, err = dateFlag("date-envoi", sent); err != nil {
				return err
			}
			in.OperationID, in.ActorID = id, actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.AddFormalNotice(ctx, in)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(n)
				}
				printf("Mise en demeure %s envoyée à %s, échéance %s\n", n.Reference, n.Destinataire, display.Date(n.Deadline()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Type, "type", "", "notice type (MOE, SPS, OPC, ENTREPRISE, CT)")
	cmd.Flags().StringVar(&in.Destinataire, "destinataire", "", "recipient")
	cmd.Flags().StringSliceVar(&in.Motifs, "motif", nil, "reason (repeatable)")
	cmd.Flags().StringVar(&in.Details, "details", "", "details")
	cmd.Flags().IntVar(&in.DelaiConformite, "delai", 0, "compliance delay in days (default 15)")
	cmd.Flags().StringVar(&sent, "date-envoi", "", "sending date (YYYY-MM-DD, default today)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("destinataire")
	return cmd
}

func utilityCmd() *cobra.Command {
	c := &cobra.Command{Use: "utility", Short: "Utility connections"}
	c.AddCommand(opCommand("show <id>", "Show connection progress per provider", 1, func(ctx context.Context, e engine.Engine, id int64, _ []string) error {
		s, err := e.Utilities(ctx, id)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(s)
		}
		printUtilities(s)
		return nil
	}))
	c.AddCommand(utilitySetCmd())
	return c
}

func printUtilities(s ledger.UtilitySummary) {
	tw := newTable(table.Row{"Concessionnaire", "Validées", "Progression", "Prochaine étape"})
	for _, p := range s.Providers {
		next := ""
		if p.Next != nil {
			next = p.Next.Nom
		}
		tw.AppendRow(table.Row{p.Provider, fmt.Sprintf("%d/%d", p.Validated, p.Total), display.Percent(p.Percentage), next})
	}
	tw.SetCaption("%d étape(s) en attente", s.Pending)
	tw.Render()
}

func utilitySetCmd() *cobra.Command {
	var in engine.UtilityInput
	var date string
	cmd := &cobra.Command{
		Use:   "set <id> <EDF|EAU|FIBRE> <sequence>",
		Short: "Record the status of a connection step",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := operationID(args[0])
			if err != nil {
				return err
			}
			seq, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid sequence %q", args[2])
			}
			if in.Date, err = dateFlag("date", date); err != nil {
				return err
			}
			in.OperationID, in.Provider, in.Sequence, in.ActorID = id, strings.ToUpper(args[1]), seq, actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SetUtilityStep(ctx, in)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(s)
				}
				printUtilities(s)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Nom, "nom", "", "step name")
	cmd.Flags().StringVar(&in.Statut, "statut", "", "step status (VALIDEE, EN_COURS, PLANIFIE, EN_ATTENTE)")
	cmd.Flags().StringVar(&date, "date", "", "step date (YYYY-MM-DD)")
	return cmd
}

func claimCmd() *cobra.Command {
	c := &cobra.Command{Use: "claim", Short: "Post-delivery claims"}
	c.AddCommand(opCommand("list <id>", "List claims", 1, func(ctx context.Context, e engine.Engine, id int64, _ []string) error {
		s, err := e.Claims(ctx, id)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(s)
		}
		tw := newTable(table.Row{"Date", "Logement", "Type", "Urgence", "Statut", "Délai"})
		for _, cl := range s.Claims {
			tw.AppendRow(table.Row{display.Date(cl.Date), cl.Logement, cl.Type, cl.Urgence, cl.Statut, fmt.Sprintf("%d j", cl.DelaiIntervention)})
		}
		tw.SetCaption("%d ouverte(s) dont %d urgente(s)", s.Open, s.OpenUrgent)
		tw.Render()
		printSignals(s.Signals())
		return nil
	}))
	c.AddCommand(claimAddCmd())
	return c
}

func claimAddCmd() *cobra.Command {
	var in engine.ClaimInput
	var date string
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Record a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := operationID(args[0])
			if err != nil {
				return err
			}
			if in.Date, err = dateFlag("date", date); err != nil {
				return err
			}
			in.OperationID, in.ActorID = id, actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cl, err := e.AddClaim(ctx, in)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cl)
				}
				printf("Réclamation %s enregistrée (%s)\n", cl.ID, cl.Statut)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Logement, "logement", "", "dwelling")
	cmd.Flags().StringVar(&in.Type, "type", "", "claim type")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Urgence, "urgence", "", "Normale, Prioritaire or Urgente")
	cmd.Flags().IntVar(&in.DelaiIntervention, "delai", 0, "intervention delay in days")
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, default today)")
	return cmd
}

func closureCmd() *cobra.Command {
	c := &cobra.Command{Use: "closure", Short: "Closure checklist and gate"}
	c.AddCommand(opCommand("show <id>", "Show the closure checklist and balance", 1, func(ctx context.Context, e engine.Engine, id int64, _ []string) error {
		v, err := e.Closure(ctx, id)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(v)
		}
		printClosure(v)
		return nil
	}))
	c.AddCommand(closureSetCmd())
	c.AddCommand(opCommand("close <id>", "Close the operation once the checklist is resolved", 1, func(ctx context.Context, e engine.Engine, id int64, _ []string) error {
		o, err := e.CloseOperation(ctx, id, actorID())
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(o)
		}
		printf("Opération %d clôturée\n", o.ID)
		return nil
	}))
	return c
}

func printClosure(v engine.ClosureView) {
	tw := newTable(table.Row{"Clé", "Élément", "Responsable", "Statut"})
	for _, it := range v.Checklist {
		state := "à faire"
		if it.Resolved {
			state = "fait"
		}
		tw.AppendRow(table.Row{it.Key, it.Label, it.Responsable, state})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d", v.Resolved, v.Total)})
	tw.Render()
	b := v.Balance
	printf("Phases en retard: %d, avenants: %d (%s), réclamations: %d\n", b.PhasesEnRetard, b.Avenants, display.Money(b.AvenantsTotal), b.Reclamations)
	if v.CanClose {
		printf("Clôture possible\n")
	} else {
		printf("Clôture bloquée: %s\n", strings.Join(v.UnresolvedLabels(), ", "))
	}
}

func closureSetCmd() *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "set <id> <item-key>",
		Short: "Mark a checklist item resolved (or pending with --pending)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := operationID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.SetClosureItem(ctx, id, args[1], !pending, actorID())
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(v)
				}
				printClosure(v)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "mark the item as not resolved")
	return cmd
}
