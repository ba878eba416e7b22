package opcopilotsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal opcopilot HTTP API client.
type Client struct {
	BaseURL string
	// BasePath is the API prefix, "/v0" by default.
	BasePath    string
	ActorID     string
	BearerToken string
	// Source selects the record source ("workspace" or "reference") for reads.
	Source     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Operation is the API operation model (partial).
type Operation struct {
	ID            int64     `json:"id"`
	Nom           string    `json:"nom"`
	Type          string    `json:"type_operation"`
	Commune       string    `json:"commune"`
	BudgetTotal   float64   `json:"budget_total"`
	Statut        string    `json:"statut"`
	Avancement    int       `json:"avancement"`
	FreinsActifs  int       `json:"freins_actifs"`
	DateFinPrevue time.Time `json:"date_fin_prevue"`
}

// NewOperation is the body of CreateOperation. Dates use YYYY-MM-DD.
type NewOperation struct {
	Nom              string         `json:"nom"`
	Type             string         `json:"type_operation"`
	Commune          string         `json:"commune"`
	BudgetTotal      float64        `json:"budget_total,omitempty"`
	NbLogementsTotal int            `json:"nb_logements_total,omitempty"`
	ACOResponsable   string         `json:"aco_responsable,omitempty"`
	DateDebutPrevue  string         `json:"date_debut_prevue,omitempty"`
	DateFinPrevue    string         `json:"date_fin_prevue,omitempty"`
	OPP              map[string]any `json:"opp,omitempty"`
	VEFA             map[string]any `json:"vefa,omitempty"`
}

type Phase struct {
	Sequence        int       `json:"sequence"`
	Nom             string    `json:"nom"`
	PlannedStart    time.Time `json:"date_debut_prevue"`
	PlannedEnd      time.Time `json:"date_fin_prevue"`
	Statut          string    `json:"statut"`
	EffectiveStatus string    `json:"statut_effectif"`
	Responsable     string    `json:"responsable"`
	EstCritique     bool      `json:"est_critique"`
	Frein           string    `json:"frein,omitempty"`
	Delayed         bool      `json:"en_retard"`
	DaysLate        int       `json:"jours_retard,omitempty"`
}

type Timeline struct {
	OperationID      int64   `json:"operation_id"`
	Source           string  `json:"source"`
	Phases           []Phase `json:"phases"`
	ActiveBlockers   int     `json:"freins_actifs"`
	CriticalBlockers int     `json:"freins_critiques"`
	Validated        int     `json:"phases_validees"`
	Warning          string  `json:"warning,omitempty"`
}

type Alert struct {
	Severity      string `json:"severity"`
	OperationID   int64  `json:"operation_id,omitempty"`
	Operation     string `json:"operation"`
	Message       string `json:"message"`
	ActionRequise string `json:"action_requise"`
}

type KPIs struct {
	OperationsActives   int     `json:"operations_actives"`
	OperationsCloturees int     `json:"operations_cloturees"`
	REMRealisee         float64 `json:"rem_realisee_2024"`
	REMPrevue           float64 `json:"rem_prevue_2024"`
	TauxRealisationREM  float64 `json:"taux_realisation_rem"`
	FreinsActifs        int     `json:"freins_actifs"`
	FreinsCritiques     int     `json:"freins_critiques"`
	EcheancesSemaine    int     `json:"echeances_semaine"`
	ValidationsRequises int     `json:"validations_requises"`
}

type Dashboard struct {
	KPIs      KPIs    `json:"kpis"`
	KPISource string  `json:"kpis_source"`
	Alerts    []Alert `json:"alertes"`
}

type Portfolio struct {
	Operations []Operation    `json:"operations"`
	Total      int            `json:"total"`
	ByStatut   map[string]int `json:"par_statut"`
	ByType     map[string]int `json:"par_type"`
	Communes   []string       `json:"communes"`
}

// PortfolioFilter narrows Portfolio; empty fields match everything.
type PortfolioFilter struct {
	Type    string
	Statut  string
	Commune string
}

type ChecklistItem struct {
	Key         string `json:"key"`
	Label       string `json:"item"`
	Responsable string `json:"responsable"`
	Resolved    bool   `json:"statut"`
}

type Closure struct {
	OperationID int64           `json:"operation_id"`
	Statut      string          `json:"statut"`
	Checklist   []ChecklistItem `json:"checklist"`
	CanClose    bool            `json:"can_close"`
	Resolved    int             `json:"resolved"`
	Total       int             `json:"total"`
}

// APIError wraps non-2xx responses. Code and Details come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsClosureBlocked reports whether err is the refusal to close an operation
// with unresolved checklist items.
func IsClosureBlocked(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "closure_blocked"
}

func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, "dashboard", nil, &resp)
	return resp, err
}

func (c *Client) Portfolio(ctx context.Context, f PortfolioFilter) (Portfolio, error) {
	q := url.Values{}
	if f.Type != "" {
		q.Set("type", f.Type)
	}
	if f.Statut != "" {
		q.Set("statut", f.Statut)
	}
	if f.Commune != "" {
		q.Set("commune", f.Commune)
	}
	endpoint := "portfolio"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp Portfolio
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Alerts(ctx context.Context) ([]Alert, error) {
	var resp []Alert
	err := c.do(ctx, http.MethodGet, "alerts", nil, &resp)
	return resp, err
}

func (c *Client) Operation(ctx context.Context, id int64) (Operation, error) {
	var resp Operation
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("operations/%d", id), nil, &resp)
	return resp, err
}

// CreateOperation creates an operation; the server materializes its timeline.
func (c *Client) CreateOperation(ctx context.Context, op NewOperation) (Operation, error) {
	var resp Operation
	err := c.do(ctx, http.MethodPost, "operations", op, &resp)
	return resp, err
}

// Timeline returns the phases with their effective status. delaysOnly keeps
// the delayed and blocked phases.
func (c *Client) Timeline(ctx context.Context, id int64, delaysOnly bool) (Timeline, error) {
	endpoint := fmt.Sprintf("operations/%d/timeline", id)
	if delaysOnly {
		endpoint += "?focus=delays"
	}
	var resp Timeline
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Closure(ctx context.Context, id int64) (Closure, error) {
	var resp Closure
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("operations/%d/closure", id), nil, &resp)
	return resp, err
}

// SetClosureItem marks a checklist item resolved or pending.
func (c *Client) SetClosureItem(ctx context.Context, id int64, key string, resolved bool) (Closure, error) {
	var resp Closure
	endpoint := fmt.Sprintf("operations/%d/closure/%s", id, url.PathEscape(key))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"statut": resolved}, &resp)
	return resp, err
}

// CloseOperation runs the closure gate; see IsClosureBlocked.
func (c *Client) CloseOperation(ctx context.Context, id int64) (Operation, error) {
	var resp Operation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("operations/%d/close", id), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	if c.Source != "" {
		req.Header.Set("X-Record-Source", c.Source)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
