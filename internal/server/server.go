// Package server exposes the engine over HTTP with an OpenAPI description.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/engine"
	"github.com/Zia971/opcopilotV4/internal/refdata"
	"github.com/Zia971/opcopilotV4/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"closure_blocked"`
	Message string         `json:"message" example:"operation 1 cannot be closed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// out wraps a response body.
type out[T any] struct {
	Body T
}

func reply[T any](v T) *out[T] {
	return &out[T]{Body: v}
}

type operationPath struct {
	ID int64 `path:"id" minimum:"1"`
}

// New returns an HTTP handler exposing the opcopilot API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(log))
	router.Use(captureRequest)
	router.Use(newAuthMiddleware(cfg.Auth, log))
	hcfg := huma.DefaultConfig("opcopilot API", "0.4.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, log: log}
	registerDocs(router, basePath)
	registerHealth(group, h)
	registerDashboard(group, h)
	registerCatalog(group, h)
	registerOperations(group, h)
	registerPhases(group, h)
	registerLedgers(group, h)
	registerClosure(group, h)
	registerEvents(group, h)
	registerReference(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	engine engine.Engine
	log    *zap.Logger
}

// source returns the engine reading from the record source the request
// asked for.
func (h handlers) source(ctx context.Context) (engine.Engine, error) {
	src := requestedSource(ctx)
	if src == "" {
		return h.engine, nil
	}
	return h.engine.WithSource(src)
}

func (h handlers) fail(ctx context.Context, err error) huma.StatusError {
	se := handleError(err)
	if se != nil && se.GetStatus() >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("request_id", requestID(ctx)), zap.Error(err))
	}
	return se
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	msg := err.Error()
	var blocked domain.ClosureBlockedError
	if errors.As(err, &blocked) {
		return newAPIError(http.StatusConflict, "closure_blocked", msg, map[string]any{"unresolved": blocked.Unresolved})
	}
	var te domain.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", msg, map[string]any{"from": te.From, "to": te.To})
	}
	switch {
	case errors.Is(err, domain.ErrMissingOperation), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, domain.ErrUnknownOperationType):
		return newAPIError(http.StatusUnprocessableEntity, "unknown_operation_type", msg, nil)
	case errors.Is(err, domain.ErrDivisionUndefined):
		return newAPIError(http.StatusUnprocessableEntity, "division_undefined", msg, nil)
	case errors.Is(err, domain.ErrMalformedReferenceData):
		return newAPIError(http.StatusUnprocessableEntity, "malformed_reference_data", msg, nil)
	case errors.Is(err, domain.ErrReadOnly):
		return newAPIError(http.StatusConflict, "read_only", msg, nil)
	case errors.Is(err, domain.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requireBody(ctx context.Context) huma.StatusError {
	if len(bodyBytes(ctx)) == 0 {
		return newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	doc := sync.OnceValue(func() []byte {
		oas := api.OpenAPI()
		ensureDefaultErrorResponses(oas)
		applyAuthSecurity(oas)
		b, _ := json.Marshal(oas)
		return b
	})
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc())
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

// applyAuthSecurity documents the optional bearer token. Write operations
// list it as required.
func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	if oas.Components.Schemas != nil {
		oas.Components.Schemas.Map()["ApiError"] = &huma.Schema{
			Type: "object",
			Properties: map[string]*huma.Schema{
				"error": {
					Type: "object",
					Properties: map[string]*huma.Schema{
						"code":    {Type: "string"},
						"message": {Type: "string"},
						"details": {Type: "object"},
					},
				},
			},
		}
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Post, item.Put, item.Patch, item.Delete} {
			if op != nil {
				op.Security = security
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="fr">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>opcopilot API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Writes are attributed to X-Actor-Id, or to the subject of the bearer token when a secret is configured.
      Send X-Record-Source: reference to read the bundled dataset.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*out[HealthResponse], error) {
		resp := HealthResponse{Status: "ok", Source: h.engine.Source}
		if h.engine.Reference != nil {
			resp.Reference = h.engine.Reference.Version()
		}
		return reply(resp), nil
	})
}

func registerDashboard(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Portfolio KPIs, monthly activity and alerts",
	}, func(ctx context.Context, _ *struct{}) (*out[engine.Dashboard], error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		d, err := e.Dashboard(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "portfolio",
		Method:      http.MethodGet,
		Path:        "/portfolio",
		Summary:     "List operations",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type    string `query:"type"`
		Statut  string `query:"statut"`
		Commune string `query:"commune"`
	}) (*out[engine.Portfolio], error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		p, err := e.Portfolio(ctx, engine.PortfolioFilter{Type: input.Type, Statut: input.Statut, Commune: input.Commune})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "Composed alerts, most severe first",
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Alert], error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		list, err := e.Alerts(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(list), nil
	})
}

func registerCatalog(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/catalog",
		Summary:     "List phase templates",
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Template], error) {
		return reply(h.engine.Templates()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/catalog/{type}",
		Summary:     "Get the phase template of an operation type",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Type string `path:"type"`
	}) (*out[domain.Template], error) {
		t, err := h.engine.Template(input.Type)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(t), nil
	})
}

func registerEvents(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent workspace events",
	}, func(ctx context.Context, input *struct {
		OperationID int64  `query:"operation_id"`
		Type        string `query:"type"`
		Limit       int    `query:"limit" default:"50"`
	}) (*out[[]domain.Event], error) {
		e, err := h.source(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		list, err := e.EventLog(ctx, repo.EventFilter{
			OperationID: input.OperationID,
			Type:        input.Type,
			Limit:       normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(list), nil
	})
}

func registerReference(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "reload-reference",
		Method:      http.MethodPost,
		Path:        "/reference/reload",
		Summary:     "Reload the reference dataset from its source files",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*out[ReloadResponse], error) {
		if err := h.engine.Reload(); err != nil {
			return nil, h.fail(ctx, err)
		}
		h.log.Info("reference reloaded", zap.String("actor_id", actorIDFromContext(ctx)))
		return reply(referenceState(h.engine.Reference)), nil
	})
}

func referenceState(s *refdata.Store) ReloadResponse {
	snap := s.Current()
	return ReloadResponse{Version: s.Version(), Counts: snap.Counts(), Diagnostics: snap.Diagnostics}
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
