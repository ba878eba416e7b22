package server

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/engine"
	"github.com/Zia971/opcopilotV4/internal/export"
	"github.com/Zia971/opcopilotV4/internal/ledger"
	"github.com/Zia971/opcopilotV4/internal/timeline"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

type xlsxOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func registerOperations(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-operation",
		Method:        http.MethodPost,
		Path:          "/operations",
		Summary:       "Create an operation and lay out its phases",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateOperationRequest
	}) (*out[domain.Operation], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		in, err := input.Body.toInput(actorIDFromContext(ctx))
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		op, err := h.engine.CreateOperation(ctx, in)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(op), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-operation",
		Method:      http.MethodGet,
		Path:        "/operations/{id}",
		Summary:     "Get operation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *operationPath) (*out[domain.Operation], error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		op, err := e.Operation(ctx, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(op), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-operation-status",
		Method:      http.MethodPatch,
		Path:        "/operations/{id}/status",
		Summary:     "Move an operation forward in its lifecycle",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		operationPath
		Body SetStatusRequest
	}) (*out[domain.Operation], error) {
		op, err := h.engine.UpdateOperationStatus(ctx, input.ID, input.Body.Statut, actorIDFromContext(ctx))
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(op), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-timeline",
		Method:      http.MethodGet,
		Path:        "/operations/{id}/timeline",
		Summary:     "Materialized phases with their effective status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		operationPath
		Focus string `query:"focus" enum:"all,delays" default:"all"`
	}) (*out[timeline.Timeline], error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		tl, err := e.Timeline(ctx, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		if input.Focus == "delays" {
			tl.Phases = timeline.DelayFocused(tl.Phases)
		}
		return reply(tl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-timeline",
		Method:      http.MethodGet,
		Path:        "/operations/{id}/timeline.xlsx",
		Summary:     "Download the planning workbook",
		Errors:      []int{http.StatusNotFound},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Planning workbook",
				Content: map[string]*huma.MediaType{
					"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
				},
			},
		},
	}, func(ctx context.Context, input *operationPath) (*xlsxOutput, error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		op, err := e.Operation(ctx, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		tl, err := e.Timeline(ctx, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		f, name, err := export.Planning(op, tl, e.Clock())
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		var buf bytes.Buffer
		if err := export.WritePlanning(&buf, f); err != nil {
			return nil, h.fail(ctx, err)
		}
		return &xlsxOutput{
			ContentType:        "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			ContentDisposition: `attachment; filename="` + name + `"`,
			Body:               buf.Bytes(),
		}, nil
	})
}

func registerPhases(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "update-phase",
		Method:      http.MethodPatch,
		Path:        "/operations/{id}/phases/{seq}",
		Summary:     "Update the recorded state of a phase",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		operationPath
		Seq  int `path:"seq" minimum:"1"`
		Body UpdatePhaseRequest
	}) (*out[timeline.PhaseView], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		u, err := input.Body.toInput(actorIDFromContext(ctx))
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		view, err := h.engine.UpdatePhase(ctx, input.ID, input.Seq, u)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(view), nil
	})
}

func registerLedgers(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-rem",
		Method:      http.MethodGet,
		Path:        "/operations/{id}/rem",
		Summary:     "Quarterly REM and works spending",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *operationPath) (*out[ledger.REMSummary], error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		s, err := e.REM(ctx, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-rem",
		Method:      http.MethodPost,
		Path:        "/operations/{id}/rem",
		Summary:     "Record the figures of a quarter",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		operationPath
		Body REMRequest
	}) (*out[ledger.REMSummary], error) {
		b := input.Body
		s, err := h.engine.AddREMEntry(ctx, engine.REMInput{
			OperationID:       input.ID,
			Trimestre:         b.Trimestre,
			REMProjetee:       b.REMProjetee,
			REMRealisee:       b.REMRealisee,
			AvancementREM:     b.AvancementREM,
			DepensesProjetees: b.DepensesProjetees,
			DepensesFacturees: b.DepensesFacturees,
			AvancementTravaux: b.AvancementTravaux,
			ActorID:           actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-amendments",
		Method:      http.MethodGet,
		Path:        "/operations/{id}/amendments",
		Summary:     "Amendments with their cumulated impact",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *operationPath) (*out[ledger.AmendmentSummary], error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		s, err := e.Amendments(ctx, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-amendment",
		Method:        http.MethodPost,
		Path:          "/operations/{id}/amendments",
		Summary:       "Draft an amendment and request its validation",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		operationPath
		Body AmendmentRequest
	}) (*out[domain.Amendment], error) {
		date, err := optionalDate("date", input.Body.Date)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		a, err := h.engine.AddAmendment(ctx, engine.AmendmentInput{
			OperationID:  input.ID,
			Motif:        input.Body.Motif,
			Description:  input.Body.Description,
			ImpactBudget: input.Body.ImpactBudget,
			ImpactDelai:  input.Body.ImpactDelai,
			Date:         date,
			ActorID:      actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-final-account",
		Method:      http.MethodGet,
		Path:        "/operations/{id}/final-account",
		Summary:     "Settled final account and its validation workflow",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *operationPath) (*out[engine.FinalAccountView], error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		v, err := e.FinalAccount(ctx, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-final-account-lot",
		Method:        http.MethodPost,
		Path:          "/operations/{id}/final-account/lots",
		Summary:       "Add a lot to the final account",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		operationPath
		Body LotRequest
	}) (*out[ledger.LotView], error) {
		b := input.Body
		v, err := h.engine.AddFinalAccountLot(ctx, engine.LotInput{
			OperationID:      input.ID,
			Nom:              b.Nom,
			MarcheInitial:    b.MarcheInitial,
			QuantitesReelles: b.QuantitesReelles,
			PlusMoinsValue:   b.PlusMoinsValue,
			Penalites:        b.Penalites,
			ActorID:          actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-final-account",
		Method:      http.MethodPost,
		Path:        "/operations/{id}/final-account/advance",
		Summary:     "Complete the ongoing settlement step",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *operationPath) (*out[[]domain.WorkflowStep], error) {
		steps, err := h.engine.AdvanceFinalAccountStep(ctx, input.ID, actorIDFromContext(ctx))
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(steps), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notices",
		Method:      http.MethodGet,
		Path:        "/operations/{id}/notices",
		Summary:     "Formal notices and their deadlines",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *operationPath) (*out[ledger.NoticeSummary], error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		s, err := e.Notices(ctx, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-notice",
		Method:        http.MethodPost,
		Path:          "/operations/{id}/notices",
		Summary:       "Issue a formal notice",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		operationPath
		Body NoticeRequest
	}) (*out[domain.FormalNotice], error) {
		sent, err := optionalDate("date_envoi", input.Body.DateEnvoi)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		n, err := h.engine.AddFormalNotice(ctx, engine.NoticeInput{
			OperationID:     input.ID,
			Type:            input.Body.Type,
			Destinataire:    input.Body.Destinataire,
			Motifs:          input.Body.Motifs,
			Details:         input.Body.Details,
			DelaiConformite: input.Body.DelaiConformite,
			DateEnvoi:       sent,
			ActorID:         actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remind-notices",
		Method:      http.MethodPost,
		Path:        "/operations/{id}/notices/remind",
		Summary:     "Remind every unresolved notice",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *operationPath) (*out[[]domain.FormalNotice], error) {
		list, err := h.engine.RemindNotices(ctx, input.ID, actorIDFromContext(ctx))
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(list), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-utilities",
		Method:      http.MethodGet,
		Path:        "/operations/{id}/utilities",
		Summary:     "Utility connection progress per provider",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *operationPath) (*out[ledger.UtilitySummary], error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		s, err := e.Utilities(ctx, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-utility-step",
		Method:      http.MethodPost,
		Path:        "/operations/{id}/utilities",
		Summary:     "Record a utility connection step",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		operationPath
		Body UtilityRequest
	}) (*out[ledger.UtilitySummary], error) {
		date, err := optionalDate("date", input.Body.Date)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		s, err := h.engine.SetUtilityStep(ctx, engine.UtilityInput{
			OperationID: input.ID,
			Provider:    input.Body.Provider,
			Sequence:    input.Body.Sequence,
			Nom:         input.Body.Nom,
			Statut:      input.Body.Statut,
			Date:        date,
			ActorID:     actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-claims",
		Method:      http.MethodGet,
		Path:        "/operations/{id}/claims",
		Summary:     "Completion-warranty claims",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *operationPath) (*out[ledger.ClaimSummary], error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		s, err := e.Claims(ctx, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-claim",
		Method:        http.MethodPost,
		Path:          "/operations/{id}/claims",
		Summary:       "Log a completion-warranty claim",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		operationPath
		Body ClaimRequest
	}) (*out[domain.Claim], error) {
		date, err := optionalDate("date", input.Body.Date)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		c, err := h.engine.AddClaim(ctx, engine.ClaimInput{
			OperationID:       input.ID,
			Logement:          input.Body.Logement,
			Type:              input.Body.Type,
			Description:       input.Body.Description,
			Urgence:           input.Body.Urgence,
			DelaiIntervention: input.Body.DelaiIntervention,
			Date:              date,
			ActorID:           actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(c), nil
	})
}

func registerClosure(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-closure",
		Method:      http.MethodGet,
		Path:        "/operations/{id}/closure",
		Summary:     "Closure checklist and closing balance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *operationPath) (*out[engine.ClosureView], error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		v, err := e.Closure(ctx, input.ID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-closure-item",
		Method:      http.MethodPatch,
		Path:        "/operations/{id}/closure/{item}",
		Summary:     "Resolve or reopen a checklist item",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		operationPath
		Item string `path:"item"`
		Body ClosureItemRequest
	}) (*out[engine.ClosureView], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		v, err := h.engine.SetClosureItem(ctx, input.ID, strings.TrimSpace(input.Item), input.Body.Resolved, actorIDFromContext(ctx))
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-operation",
		Method:      http.MethodPost,
		Path:        "/operations/{id}/close",
		Summary:     "Close the operation once every checklist item is resolved",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *operationPath) (*out[domain.Operation], error) {
		op, err := h.engine.CloseOperation(ctx, input.ID, actorIDFromContext(ctx))
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		h.log.Info("operation closed", zap.Int64("operation_id", op.ID), zap.String("request_id", requestID(ctx)))
		return reply(op), nil
	})
}
