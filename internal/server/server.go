// Package server exposes the governance engine over HTTP with a stable
// error envelope and OpenAPI docs.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/autonomy"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/config"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/customer"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/goals"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    *autonomy.Engine
	Customers *customer.Service
	Cfg       *config.Config
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_approved"`
	Message string         `json:"message" example:"action a1 is not approved (status pending)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"pending\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Governor API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Governor API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg)
	registerTenants(group, cfg)
	registerClones(group, cfg)
	registerGoals(group, cfg)
	registerActions(group, cfg)
	registerApprovals(group, cfg)
	registerInsights(group, cfg)
	registerAccounts(group, cfg)
	registerPatterns(group, cfg)
	registerEvents(group, cfg)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	var nae domain.NotApprovedError
	if errors.As(err, &nae) {
		return newAPIError(http.StatusConflict, "not_approved", err.Error(), map[string]any{"status": nae.Status})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
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

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Governor API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, s Config) {
	huma.Register(api, huma.Operation{
		OperationID: "tenant-status",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/status",
		Summary:     "Tenant status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		tenant, err := s.Engine.Repo.GetTenant(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		active, err := s.Engine.Goals.ActiveGoals(ctx, tenantID, "")
		if err != nil {
			return nil, handleError(err)
		}
		pending, err := s.Engine.PendingApprovals(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		insights, err := s.Engine.Repo.ListInsights(ctx, tenantID, repo.ListInsightsOptions{Status: "pending"})
		if err != nil {
			return nil, handleError(err)
		}
		accounts, err := s.Customers.Accounts(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"tenant_id":         tenant.ID,
			"status":            tenant.Status,
			"active_goals":      len(active),
			"pending_approvals": len(pending),
			"pending_insights":  len(insights),
			"accounts":          len(accounts),
		}}, nil
	})
}

func registerTenants(api huma.API, s Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/tenants",
		Summary:     "List tenants",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Tenant `json:"body"`
	}, error) {
		tenants, err := s.Engine.Repo.ListTenants(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Tenant `json:"body"`
		}{Body: nonNilSlice(tenants)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant-config",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/config",
		Summary:     "Tenant configuration",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body TenantConfigResponse `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		cfg, err := s.Engine.Repo.GetTenantConfig(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TenantConfigResponse `json:"body"`
		}{Body: tenantConfigResponse(cfg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-tenant-config",
		Method:      http.MethodPut,
		Path:        "/tenants/{tenant_id}/config",
		Summary:     "Import tenant configuration",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TenantID string              `path:"tenant_id"`
		Body     ImportConfigRequest `json:"body"`
	}) (*struct {
		Body TenantConfigResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		if _, err := s.Engine.Repo.GetTenant(ctx, tenantID); err != nil {
			return nil, handleError(err)
		}
		cfg, err := config.FromYAML([]byte(input.Body.YAML))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		if cfg.Tenant.ID != tenantID {
			return nil, newAPIError(http.StatusBadRequest, "bad_request",
				fmt.Sprintf("config tenant id %q does not match %q", cfg.Tenant.ID, tenantID), nil)
		}
		if err := s.Engine.Repo.UpsertTenantConfig(ctx, tenantID, cfg); err != nil {
			return nil, handleError(err)
		}
		// Guardrail and scheduler changes take effect on restart.
		return &struct {
			Body TenantConfigResponse `json:"body"`
		}{Body: tenantConfigResponse(cfg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tenant-guardrails",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/guardrails",
		Summary:     "Effective guardrail policy",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"allowed_actions":    s.Engine.Checker.AllowedActions(),
			"restricted_actions": s.Engine.Checker.RestrictedActions(),
			"restricted_stages":  s.Engine.Checker.RestrictedStages(),
		}}, nil
	})
}

func registerClones(api huma.API, s Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-clone",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/clones",
		Summary:       "Create clone",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TenantID string             `path:"tenant_id"`
		Body     CreateCloneRequest `json:"body"`
	}) (*struct {
		Body domain.Clone `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		c := domain.Clone{
			ID:        input.Body.ID,
			TenantID:  tenantID,
			Name:      input.Body.Name,
			Persona:   input.Body.Persona,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if err := s.Engine.Repo.InsertClone(ctx, c); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Clone `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clones",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/clones",
		Summary:     "List clones",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body []domain.Clone `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		clones, err := s.Engine.Repo.ListClones(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Clone `json:"body"`
		}{Body: nonNilSlice(clones)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-clone",
		Method:      http.MethodDelete,
		Path:        "/tenants/{tenant_id}/clones/{clone_id}",
		Summary:     "Delete clone",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		CloneID  string `path:"clone_id"`
	}) (*struct{}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		if err := s.Engine.Repo.DeleteClone(ctx, tenantID, input.CloneID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerGoals(api huma.API, s Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-goal",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/goals",
		Summary:       "Create goal",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TenantID string            `path:"tenant_id"`
		Body     CreateGoalRequest `json:"body"`
	}) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		start, serr := parseTimeField("period_start", input.Body.PeriodStart)
		if serr != nil {
			return nil, serr
		}
		end, eerr := parseTimeField("period_end", input.Body.PeriodEnd)
		if eerr != nil {
			return nil, eerr
		}
		g, err := s.Engine.Goals.CreateGoal(ctx, goals.GoalCreateOptions{
			TenantID:    tenantID,
			CloneID:     input.Body.CloneID,
			Type:        domain.GoalType(input.Body.GoalType),
			TargetValue: input.Body.TargetValue,
			PeriodStart: start,
			PeriodEnd:   end,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/goals",
		Summary:     "List goals",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Status   string `query:"status" enum:",active,completed,missed"`
		Type     string `query:"type" enum:",pipeline,activity,quality,revenue"`
		CloneID  string `query:"clone_id"`
	}) (*struct {
		Body []domain.Goal `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		items, err := s.Engine.Repo.ListGoals(ctx, tenantID, repo.ListGoalsOptions{
			Status:  input.Status,
			CloneID: input.CloneID,
			Type:    domain.GoalType(input.Type),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Goal `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "goal-status",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/goals/status",
		Summary:     "Pacing report for active goals",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body []domain.GoalStatus `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		statuses, err := s.Engine.Goals.CheckGoalStatus(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.GoalStatus `json:"body"`
		}{Body: nonNilSlice(statuses)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-goal-progress",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/goals/{goal_id}/progress",
		Summary:     "Update goal progress",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TenantID string                    `path:"tenant_id"`
		GoalID   string                    `path:"goal_id"`
		Body     UpdateGoalProgressRequest `json:"body"`
	}) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		g, err := s.Engine.Goals.UpdateProgress(ctx, tenantID, input.GoalID, input.Body.Value)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "goal-suggestions",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/goals/{goal_id}/suggestions",
		Summary:     "Corrective suggestions for a goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		GoalID   string `path:"goal_id"`
	}) (*struct {
		Body []string `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		g, err := s.Engine.Repo.GetGoal(ctx, tenantID, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		suggestions := s.Engine.Goals.SuggestActions(ctx, tenantID, g)
		return &struct {
			Body []string `json:"body"`
		}{Body: nonNilSlice(suggestions)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "performance-metrics",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/metrics",
		Summary:     "Performance metrics snapshot",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		CloneID  string `query:"clone_id"`
	}) (*struct {
		Body domain.PerformanceMetrics `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		m := s.Engine.Goals.ComputeMetrics(ctx, tenantID, input.CloneID)
		return &struct {
			Body domain.PerformanceMetrics `json:"body"`
		}{Body: m}, nil
	})
}

func registerActions(api huma.API, s Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "propose-action",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/actions",
		Summary:       "Propose an autonomous action",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TenantID string               `path:"tenant_id"`
		Body     ProposeActionRequest `json:"body"`
	}) (*struct {
		Body ProposeActionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		action := domain.AutonomyAction{
			ID:         uuid.New().String(),
			TenantID:   tenantID,
			ActionType: input.Body.ActionType,
			AccountID:  input.Body.AccountID,
			DealStage:  input.Body.DealStage,
			Rationale:  input.Body.Rationale,
		}
		verdict, err := s.Engine.ProposeAction(ctx, tenantID, action)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposeActionResponse `json:"body"`
		}{Body: ProposeActionResponse{ActionID: action.ID, Verdict: verdict}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/actions",
		Summary:     "List action audit records",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.ActionRecord `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		items, err := s.Engine.Repo.ListActions(ctx, tenantID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ActionRecord `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/actions/{action_id}",
		Summary:     "Get action audit record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ActionID string `path:"action_id"`
	}) (*struct {
		Body domain.ActionRecord `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		rec, err := s.Engine.Repo.GetAction(ctx, tenantID, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActionRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-action",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/actions/{action_id}/execute",
		Summary:     "Execute an approved action",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		ActionID string `path:"action_id"`
	}) (*struct {
		Body domain.ActionRecord `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		rec, err := s.Engine.ExecuteApprovedAction(ctx, tenantID, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActionRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerApprovals(api huma.API, s Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/approvals",
		Summary:     "List pending approvals",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body []domain.ApprovalRequest `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		items, err := s.Engine.PendingApprovals(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ApprovalRequest `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-approval",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/approvals/{action_id}/resolve",
		Summary:     "Resolve a pending approval",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TenantID string                 `path:"tenant_id"`
		ActionID string                 `path:"action_id"`
		Body     ResolveApprovalRequest `json:"body"`
	}) (*struct {
		Body domain.ApprovalRequest `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		ok, err := s.Engine.ResolveApproval(ctx, tenantID, input.ActionID, input.Body.Approved, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found",
				fmt.Sprintf("no pending approval for action %s", input.ActionID), nil)
		}
		approval, err := s.Engine.Repo.GetApproval(ctx, tenantID, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ApprovalRequest `json:"body"`
		}{Body: approval}, nil
	})
}

func registerInsights(api huma.API, s Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-insights",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/insights",
		Summary:     "List insights",
	}, func(ctx context.Context, input *struct {
		TenantID    string `path:"tenant_id"`
		Status      string `query:"status" enum:",pending,acted,dismissed"`
		AccountID   string `query:"account_id"`
		PatternType string `query:"pattern_type" enum:",buying_signal,risk_indicator,engagement_change,cross_account_pattern"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Insight `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		items, err := s.Engine.Repo.ListInsights(ctx, tenantID, repo.ListInsightsOptions{
			Status:      input.Status,
			AccountID:   input.AccountID,
			PatternType: domain.PatternType(input.PatternType),
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Insight `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "insight-digest",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/insights/digest",
		Summary:     "Daily insight digest",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body domain.DailyDigest `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		digest, err := s.Engine.Insights.GenerateDailyDigest(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DailyDigest `json:"body"`
		}{Body: digest}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "feedback-summary",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/insights/feedback",
		Summary:     "Feedback accuracy summary",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body domain.FeedbackSummary `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		summary, err := s.Engine.Insights.FeedbackSummary(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FeedbackSummary `json:"body"`
		}{Body: summary}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-feedback",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/insights/{insight_id}/feedback",
		Summary:       "Record feedback on an insight",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TenantID  string          `path:"tenant_id"`
		InsightID string          `path:"insight_id"`
		Body      FeedbackRequest `json:"body"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Verdict != "useful" && input.Body.Verdict != "false_alarm" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request",
				fmt.Sprintf("verdict must be useful or false_alarm, got %q", input.Body.Verdict), nil)
		}
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		if _, err := s.Engine.Repo.GetInsight(ctx, tenantID, input.InsightID); err != nil {
			return nil, handleError(err)
		}
		recorded := s.Engine.Insights.ProcessFeedback(ctx, tenantID, input.InsightID, input.Body.Verdict, input.Body.Comment)
		if !recorded {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "feedback not recorded", nil)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"recorded": true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-insight-status",
		Method:      http.MethodPatch,
		Path:        "/tenants/{tenant_id}/insights/{insight_id}/status",
		Summary:     "Mark an insight acted or dismissed",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TenantID  string                  `path:"tenant_id"`
		InsightID string                  `path:"insight_id"`
		Body      SetInsightStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Insight `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status != "acted" && input.Body.Status != "dismissed" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request",
				fmt.Sprintf("status must be acted or dismissed, got %q", input.Body.Status), nil)
		}
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		actedAt := ""
		if input.Body.Status == "acted" {
			actedAt = time.Now().UTC().Format(time.RFC3339)
		}
		if err := s.Engine.Repo.UpdateInsightStatus(ctx, tenantID, input.InsightID, input.Body.Status, actedAt); err != nil {
			return nil, handleError(err)
		}
		in, err := s.Engine.Repo.GetInsight(ctx, tenantID, input.InsightID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Insight `json:"body"`
		}{Body: in}, nil
	})
}

func registerAccounts(api huma.API, s Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-interaction",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/interactions",
		Summary:       "Record a customer interaction",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TenantID string                   `path:"tenant_id"`
		Body     RecordInteractionRequest `json:"body"`
	}) (*struct {
		Body domain.Interaction `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		in := domain.Interaction{
			TenantID:       tenantID,
			AccountID:      input.Body.AccountID,
			Channel:        input.Body.Channel,
			Participants:   input.Body.Participants,
			ContentSummary: input.Body.ContentSummary,
			Sentiment:      input.Body.Sentiment,
			KeyPoints:      input.Body.KeyPoints,
		}
		if input.Body.Timestamp != nil {
			ts, terr := parseTimeField("timestamp", *input.Body.Timestamp)
			if terr != nil {
				return nil, terr
			}
			in.Timestamp = ts
		}
		stored, err := s.Customers.RecordInteraction(ctx, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Interaction `json:"body"`
		}{Body: stored}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-accounts",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/accounts",
		Summary:     "List accounts with recorded history",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body []string `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		accounts, err := s.Customers.Accounts(ctx, tenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: nonNilSlice(accounts)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "account-view",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/accounts/{account_id}/view",
		Summary:     "Unified account view",
	}, func(ctx context.Context, input *struct {
		TenantID  string `path:"tenant_id"`
		AccountID string `path:"account_id"`
	}) (*struct {
		Body domain.CustomerView `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		view, err := s.Customers.UnifiedView(ctx, tenantID, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CustomerView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "account-summary",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/accounts/{account_id}/summary",
		Summary:     "Rolled-up account summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID  string `path:"tenant_id"`
		AccountID string `path:"account_id"`
	}) (*struct {
		Body domain.AccountSummary `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		summary, err := s.Engine.Repo.GetAccountSummary(ctx, tenantID, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AccountSummary `json:"body"`
		}{Body: summary}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scan-account",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/accounts/{account_id}/scan",
		Summary:     "Run pattern detection for one account",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		TenantID  string `path:"tenant_id"`
		AccountID string `path:"account_id"`
	}) (*struct {
		Body ScanResponse `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		view, err := s.Customers.UnifiedView(ctx, tenantID, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		matches := s.Engine.Patterns.DetectPatterns(ctx, view)
		created, err := s.Engine.Insights.ProcessBatch(ctx, tenantID, matches)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScanResponse `json:"body"`
		}{Body: ScanResponse{
			AccountID: input.AccountID,
			Matches:   len(matches),
			Insights:  nonNilSlice(created),
		}}, nil
	})
}

func registerPatterns(api huma.API, s Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-threshold",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/patterns/threshold",
		Summary:     "Current confidence threshold",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body ThresholdResponse `json:"body"`
	}, error) {
		return &struct {
			Body ThresholdResponse `json:"body"`
		}{Body: ThresholdResponse{ConfidenceThreshold: s.Engine.Patterns.ConfidenceThreshold()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-threshold",
		Method:      http.MethodPatch,
		Path:        "/tenants/{tenant_id}/patterns/threshold",
		Summary:     "Tune the confidence threshold",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TenantID string                 `path:"tenant_id"`
		Body     UpdateThresholdRequest `json:"body"`
	}) (*struct {
		Body ThresholdResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		applied := s.Engine.Patterns.UpdateConfidenceThreshold(input.Body.ConfidenceThreshold)
		return &struct {
			Body ThresholdResponse `json:"body"`
		}{Body: ThresholdResponse{ConfidenceThreshold: applied}}, nil
	})
}

func registerEvents(api huma.API, s Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/events",
		Summary:     "List audit-trail events",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		After    int64  `query:"after"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		tenantID := tenantFromPathOrHeader(ctx, input.TenantID, s.Cfg.Tenant.ID)
		var items []domain.Event
		var err error
		if input.After > 0 {
			items, err = s.Engine.Repo.EventsAfter(ctx, input.Limit, input.After, tenantID)
		} else {
			items, err = s.Engine.Repo.TailEvents(ctx, tenantID, input.Limit)
		}
		if err != nil {
			return nil, handleError(err)
		}
		resp := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			resp = append(resp, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func parseTimeField(field, value string) (time.Time, huma.StatusError) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, newAPIError(http.StatusBadRequest, "bad_request", field+" is required", nil)
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, newAPIError(http.StatusBadRequest, "bad_request",
			fmt.Sprintf("invalid %s: %v", field, err), nil)
	}
	return ts, nil
}

func tenantFromPathOrHeader(ctx context.Context, pathTenantID, fallback string) string {
	if pathTenantID != "" {
		return pathTenantID
	}
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		if v := strings.TrimSpace(req.Header.Get("X-Tenant-Id")); v != "" {
			return v
		}
	}
	return fallback
}
