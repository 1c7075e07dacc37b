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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"aql_not_configured"`
	Message string         `json:"message" example:"sampling not configured for template"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"template_id\":\"tpl-1\"}"`
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

// New returns an HTTP handler exposing the Inspectline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api/v1"
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
	hcfg := huma.DefaultConfig("Inspectline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerTemplates(group, cfg.Engine)
	registerInspections(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerCorrectiveActions(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerDefectMaster(group, cfg.Engine)
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
	var ede engine.EvidenceDeficiencyError
	if errors.As(err, &ede) {
		return newAPIError(http.StatusUnprocessableEntity, "evidence_required", err.Error(), map[string]any{"items": ede.Items})
	}
	var sce engine.StateConflictError
	if errors.As(err, &sce) {
		return newAPIError(http.StatusConflict, "state_conflict", err.Error(), map[string]any{"entity": sce.Entity, "id": sce.ID})
	}
	var fe engine.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "not found", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "state_conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
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
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Inspectline API Docs</title>
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

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body Principal `json:"body"`
	}, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body Principal `json:"body"`
		}{Body: p}, nil
	})
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/templates",
		Summary:       "Create template draft",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateRequest `json:"body"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requireRole(ctx, "it")
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TemplateCreateOptions{
			Title:     input.Body.Title,
			Pages:     input.Body.Pages,
			CreatorID: p.UserID,
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.ImageURL != nil {
			opts.ImageURL = *input.Body.ImageURL
		}
		if input.Body.Organization != nil {
			opts.Organization = *input.Body.Organization
		}
		if input.Body.Location != nil {
			opts.Location = *input.Body.Location
		}
		if input.Body.DefectCategories != nil {
			opts.DefectCategories = *input.Body.DefectCategories
		}
		t, err := e.CreateTemplate(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List templates",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"draft,submitted,manager_edit,published" required:"false"`
		Limit  int    `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.Template `json:"body"`
	}, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.TemplateFilters{Status: input.Status, Limit: input.Limit}
		switch p.Role {
		case "it":
			f.CreatorID = p.UserID
		case "manager":
			f.ManagerID = p.UserID
		case "inspector":
			// Inspectors only see what is runnable.
			f.Status = "published"
		}
		items, err := e.Repo.ListTemplates(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Template `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}",
		Summary:     "Get template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTemplate(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-template",
		Method:      http.MethodPatch,
		Path:        "/templates/{template_id}",
		Summary:     "Edit template content",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string                `path:"template_id"`
		Body       UpdateTemplateRequest `json:"body"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requireRole(ctx, "it", "manager")
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTemplateContent(ctx, engine.TemplateUpdateOptions{
			ID:               input.TemplateID,
			Title:            input.Body.Title,
			Description:      input.Body.Description,
			ImageURL:         input.Body.ImageURL,
			Pages:            input.Body.Pages,
			Organization:     input.Body.Organization,
			Location:         input.Body.Location,
			DefectCategories: input.Body.DefectCategories,
			ActorID:          p.UserID,
			ActorRole:        p.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-template",
		Method:      http.MethodDelete,
		Path:        "/templates/{template_id}",
		Summary:     "Delete draft template",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct{}, error) {
		p, authErr := requireRole(ctx, "it")
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTemplate(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		if t.CreatorID != p.UserID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only the creator may delete a template", nil)
		}
		if t.Status != "draft" {
			return nil, newAPIError(http.StatusConflict, "state_conflict", "only draft templates can be deleted", map[string]any{"status": t.Status})
		}
		if err := e.Repo.DeleteTemplate(ctx, input.TemplateID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-template",
		Method:      http.MethodPost,
		Path:        "/templates/{template_id}/submit",
		Summary:     "Submit draft for manager review",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string                `path:"template_id"`
		Body       SubmitTemplateRequest `json:"body"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, "it")
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SubmitTemplate(ctx, input.TemplateID, input.Body.ManagerID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "manager-edit-template",
		Method:      http.MethodPost,
		Path:        "/templates/{template_id}/manager-edit",
		Summary:     "Take a submitted template into manager edit",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, "manager")
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.StartManagerEdit(ctx, input.TemplateID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-template",
		Method:      http.MethodPost,
		Path:        "/templates/{template_id}/publish",
		Summary:     "Publish template",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, "manager")
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.PublishTemplate(ctx, input.TemplateID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "configure-sampling",
		Method:      http.MethodPut,
		Path:        "/templates/{template_id}/sampling",
		Summary:     "Configure acceptance sampling",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TemplateID string                   `path:"template_id"`
		Body       ConfigureSamplingRequest `json:"body"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requireRole(ctx, "manager")
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ConfigureSampling(ctx, input.TemplateID, input.Body.LotSize, input.Body.AQLLevel, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sampling-plan",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}/sampling",
		Summary:     "Get acceptance sampling plan",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body aqlPlanResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTemplate(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		plan := engine.SamplingPlan(t)
		if plan == nil {
			return nil, newAPIError(http.StatusNotFound, "aql_not_configured", "sampling not configured for template", map[string]any{"template_id": t.ID})
		}
		return &struct {
			Body aqlPlanResponse `json:"body"`
		}{Body: aqlPlanResponse{
			LotSize:         plan.LotSize,
			AQLLevel:        plan.AQLLevel,
			SampleSize:      plan.SampleSize,
			CriticalAllowed: plan.CriticalAllowed,
			MajorAllowed:    plan.MajorAllowed,
			MinorAllowed:    plan.MinorAllowed,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-template-responses",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}/responses",
		Summary:     "List finalized responses for a template",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body []domain.InspectionResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, "manager", "it"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListInspectionResponses(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.InspectionResponse `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template-response",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}/responses/{inspector_id}",
		Summary:     "Get one inspector's finalized response",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID  string `path:"template_id"`
		InspectorID string `path:"inspector_id"`
	}) (*struct {
		Body domain.InspectionResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, "manager", "it", "inspector")
		if authErr != nil {
			return nil, authErr
		}
		if p.Role == "inspector" && p.UserID != input.InspectorID {
			return nil, handleError(engine.ForbiddenError{Msg: "inspectors can only read their own response"})
		}
		resp, err := e.Repo.GetInspectionResponse(ctx, input.TemplateID, input.InspectorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.InspectionResponse `json:"body"`
		}{Body: resp}, nil
	})
}

type aqlPlanResponse struct {
	LotSize         int     `json:"lot_size"`
	AQLLevel        float64 `json:"aql_level"`
	SampleSize      int     `json:"sample_size"`
	CriticalAllowed int     `json:"critical_defects_allowed"`
	MajorAllowed    int     `json:"major_defects_allowed"`
	MinorAllowed    int     `json:"minor_defects_allowed"`
}

func registerInspections(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "assign-inspection",
		Method:        http.MethodPost,
		Path:          "/inspections",
		Summary:       "Assign inspection",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body AssignInspectionRequest `json:"body"`
	}) (*struct {
		Body domain.Inspection `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requireRole(ctx, "manager")
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.AssignOptions{
			TemplateID:  input.Body.TemplateID,
			InspectorID: input.Body.InspectorID,
			ManagerID:   p.UserID,
		}
		if input.Body.ScheduledAt != nil {
			opts.ScheduledAt = *input.Body.ScheduledAt
		}
		ins, err := e.AssignInspection(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Inspection `json:"body"`
		}{Body: ins}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-inspections",
		Method:      http.MethodGet,
		Path:        "/inspections",
		Summary:     "List inspections",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"assigned,in_progress,submitted,completed" required:"false"`
		TemplateID string `query:"template_id" required:"false"`
		Limit      int    `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.Inspection `json:"body"`
	}, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.InspectionFilters{
			Status:     input.Status,
			TemplateID: input.TemplateID,
			Limit:      input.Limit,
		}
		switch p.Role {
		case "inspector":
			f.InspectorID = p.UserID
		case "manager":
			f.ManagerID = p.UserID
		}
		items, err := e.Repo.ListInspections(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Inspection `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-inspection",
		Method:      http.MethodGet,
		Path:        "/inspections/{inspection_id}",
		Summary:     "Get inspection",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InspectionID string `path:"inspection_id"`
	}) (*struct {
		Body domain.Inspection `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		ins, err := e.Repo.GetInspection(ctx, input.InspectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Inspection `json:"body"`
		}{Body: ins}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-inspection",
		Method:      http.MethodPost,
		Path:        "/inspections/{inspection_id}/start",
		Summary:     "Start inspection",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		InspectionID string `path:"inspection_id"`
	}) (*struct {
		Body domain.Inspection `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, "inspector")
		if authErr != nil {
			return nil, authErr
		}
		ins, err := e.StartInspection(ctx, input.InspectionID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Inspection `json:"body"`
		}{Body: ins}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-inspection",
		Method:      http.MethodPost,
		Path:        "/inspections/{inspection_id}/submit",
		Summary:     "Submit inspection",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		InspectionID string                  `path:"inspection_id"`
		Body         SubmitInspectionRequest `json:"body"`
	}) (*struct {
		Body domain.Inspection `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requireRole(ctx, "inspector")
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.SubmitOptions{
			ID:           input.InspectionID,
			ActorID:      p.UserID,
			ActorRole:    p.Role,
			Responses:    input.Body.Responses,
			DefectCounts: input.Body.DefectCounts,
		}
		if input.Body.Override != nil {
			opts.Override = &engine.OverrideRequest{
				Decision: input.Body.Override.Decision,
				Reason:   input.Body.Override.Reason,
			}
		}
		ins, err := e.SubmitInspection(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Inspection `json:"body"`
		}{Body: ins}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-inspection",
		Method:      http.MethodPost,
		Path:        "/inspections/{inspection_id}/approve",
		Summary:     "Approve submitted inspection",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		InspectionID string `path:"inspection_id"`
	}) (*struct {
		Body domain.Inspection `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, "manager")
		if authErr != nil {
			return nil, authErr
		}
		ins, err := e.ApproveInspection(ctx, input.InspectionID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Inspection `json:"body"`
		}{Body: ins}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-inspection-aql",
		Method:      http.MethodGet,
		Path:        "/inspections/{inspection_id}/aql",
		Summary:     "Get evaluated sampling outcome",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InspectionID string `path:"inspection_id"`
	}) (*struct {
		Body domain.AQLSnapshot `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		ins, err := e.Repo.GetInspection(ctx, input.InspectionID)
		if err != nil {
			return nil, handleError(err)
		}
		if ins.AQL == nil {
			return nil, newAPIError(http.StatusNotFound, "aql_not_evaluated", "inspection has no sampling outcome", map[string]any{"inspection_id": ins.ID})
		}
		return &struct {
			Body domain.AQLSnapshot `json:"body"`
		}{Body: *ins.AQL}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-inspection-audit",
		Method:      http.MethodGet,
		Path:        "/inspections/{inspection_id}/audit",
		Summary:     "Inspection audit trail",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		InspectionID string `path:"inspection_id"`
		Limit        int    `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.AuditEvent `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, "manager", "it"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAuditEvents(ctx, input.InspectionID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditEvent `json:"body"`
		}{Body: items}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List own tasks",
		Description: "Reconciles derived tasks from inspection and template state before listing.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"todo,in_progress,review,completed" required:"false"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ReconcileTasks(ctx, p.UserID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Status != "" {
			filtered := items[:0]
			for _, t := range items {
				if t.Status == input.Status {
					filtered = append(filtered, t)
				}
			}
			items = filtered
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requireRole(ctx, "manager", "it")
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if input.Body.AssignedToID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "assigned_to_id is required", nil)
		}
		now := repo.Now()
		t := domain.Task{
			ID:           uuid.NewString(),
			Title:        input.Body.Title,
			Priority:     input.Body.Priority,
			Status:       "todo",
			InspectionID: input.Body.InspectionID,
			TemplateID:   input.Body.TemplateID,
			AssignedToID: input.Body.AssignedToID,
			AssignedByID: p.UserID,
			DueDate:      input.Body.DueDate,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if input.Body.Description != nil {
			t.Description = *input.Body.Description
		}
		if t.Priority == "" {
			t.Priority = "medium"
		}
		if err := e.Repo.InsertTask(ctx, t); err != nil {
			return nil, handleError(err)
		}
		created, err := e.Repo.GetTask(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if t.AssignedToID != p.UserID && p.Role != "manager" && p.Role != "it" {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "task belongs to another user", nil)
		}
		if input.Body.Title != nil {
			t.Title = *input.Body.Title
		}
		if input.Body.Description != nil {
			t.Description = *input.Body.Description
		}
		if input.Body.Priority != nil {
			t.Priority = *input.Body.Priority
		}
		if input.Body.DueDate != nil {
			t.DueDate = input.Body.DueDate
		}
		now := repo.Now()
		if input.Body.Status != nil {
			t.Status = *input.Body.Status
			if t.Status == "completed" {
				t.IsCompleted = true
				t.CompletedAt = &now
			} else {
				t.IsCompleted = false
				t.CompletedAt = nil
			}
		}
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, t); err != nil {
			return nil, handleError(err)
		}
		updated, err := e.Repo.GetTask(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		if _, authErr := requireRole(ctx, "manager", "it"); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteTask(ctx, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-stats",
		Method:      http.MethodGet,
		Path:        "/tasks/stats",
		Summary:     "Own task counts by status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TaskStatsResponse `json:"body"`
	}, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountTasksByStatus(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskStatsResponse `json:"body"`
		}{Body: taskStats(counts)}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List own notifications",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread" required:"false"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, "manager")
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListNotifications(ctx, p.UserID, input.Unread)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{notification_id}/read",
		Summary:     "Mark notification read",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct{}, error) {
		if _, authErr := requireRole(ctx, "manager"); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.MarkNotificationRead(ctx, input.NotificationID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCorrectiveActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-corrective-actions",
		Method:      http.MethodGet,
		Path:        "/corrective-actions",
		Summary:     "List corrective action requests",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		InspectionID string `query:"inspection_id" required:"false"`
		Status       string `query:"status" enum:"open,closed" required:"false"`
	}) (*struct {
		Body []domain.CorrectiveAction `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, "manager", "it")
		if authErr != nil {
			return nil, authErr
		}
		f := repo.CorrectiveActionFilters{
			InspectionID: input.InspectionID,
			Status:       input.Status,
		}
		if p.Role == "manager" {
			f.ManagerID = p.UserID
		}
		items, err := e.Repo.ListCorrectiveActions(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CorrectiveAction `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-corrective-action",
		Method:      http.MethodPost,
		Path:        "/corrective-actions/{action_id}/close",
		Summary:     "Close corrective action",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActionID string `path:"action_id"`
	}) (*struct{}, error) {
		if _, authErr := requireRole(ctx, "manager"); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.CloseCorrectiveAction(ctx, input.ActionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := requireRole(ctx, "it"); authErr != nil {
			return nil, authErr
		}
		u := domain.User{
			ID:        uuid.NewString(),
			Email:     input.Body.Email,
			FirstName: input.Body.FirstName,
			LastName:  input.Body.LastName,
			Role:      input.Body.Role,
			CreatedAt: repo.Now(),
		}
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" enum:"it,manager,inspector" required:"false"`
	}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, "it", "manager"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListUsers(ctx, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}",
		Summary:     "Get user",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if p.UserID != input.UserID && p.Role != "it" && p.Role != "manager" {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "cannot read other users", nil)
		}
		u, err := e.Repo.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create API key",
		Description:   "The raw key is returned once and never stored.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := requireRole(ctx, "it"); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetUser(ctx, input.Body.UserID); err != nil {
			return nil, handleError(err)
		}
		raw := "ilk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		key := domain.APIKey{
			ID:        uuid.NewString(),
			UserID:    input.Body.UserID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(raw),
			CreatedAt: repo.Now(),
		}
		if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			UserID:    key.UserID,
			Name:      key.Name,
			Key:       raw,
			CreatedAt: key.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id" required:"false"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, "it"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAPIKeys(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			out = append(out, APIKeyResponse{ID: k.ID, UserID: k.UserID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := requireRole(ctx, "it"); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDefectMaster(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-defect-master",
		Method:      http.MethodGet,
		Path:        "/defects",
		Summary:     "Get defect code master list",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.DefectMaster `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		m, err := e.Repo.GetDefectMaster(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DefectMaster `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-defect-master",
		Method:      http.MethodPut,
		Path:        "/defects",
		Summary:     "Replace defect codes for one severity",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body UpdateDefectMasterRequest `json:"body"`
	}) (*struct {
		Body domain.DefectMaster `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := requireRole(ctx, "it"); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.UpsertDefectMaster(ctx, input.Body.Severity, input.Body.Codes, repo.Now()); err != nil {
			return nil, handleError(err)
		}
		m, err := e.Repo.GetDefectMaster(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DefectMaster `json:"body"`
		}{Body: m}, nil
	})
}
