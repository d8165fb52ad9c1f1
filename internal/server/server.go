package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"tracerline/internal/domain"
	"tracerline/internal/engine"
	"tracerline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Identity IdentityConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_status_for_team"`
	Message string         `json:"message" example:"status \"Pending POP\" is not valid for team Delivery"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"team\":\"Delivery\"}"`
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

// New returns an HTTP handler exposing the Tracerline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Identity.Logger == nil {
		cfg.Identity.Logger = logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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
	router.Use(newIdentityMiddleware(basePath, cfg.Identity))
	hcfg := huma.DefaultConfig("Tracerline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, log: logger}
	registerDocs(router, basePath)
	registerHealth(group)
	registerVocabularies(group)
	registerTeamStatuses(group, h)
	registerStreams(group, h)
	registerSections(group, h)
	registerActivity(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	engine engine.Engine
	log    *slog.Logger
}

// auditWarning reports an audit failure without failing the request; the
// state change has already been committed.
func (h handlers) auditWarning(op string, err error) string {
	if err == nil {
		return ""
	}
	h.log.Warn("activity not recorded", "op", op, "error", err)
	return "activity not recorded"
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
	var ise engine.InvalidStatusError
	if errors.As(err, &ise) {
		vocab, _ := domain.Vocabulary(ise.Team)
		return newAPIError(http.StatusUnprocessableEntity, "invalid_status_for_team", err.Error(), map[string]any{
			"team":    string(ise.Team),
			"status":  string(ise.Status),
			"allowed": statusStrings(vocab),
		})
	}
	if errors.Is(err, domain.ErrUnknownTeam) {
		return newAPIError(http.StatusBadRequest, "unknown_team", err.Error(), map[string]any{"teams": teamNames()})
	}
	if errors.Is(err, engine.ErrEmptyStream) {
		return newAPIError(http.StatusUnprocessableEntity, "empty_stream", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unique constraint"):
		return newAPIError(http.StatusConflict, "conflict", "resource already exists", nil)
	case strings.Contains(lowered, "duplicate"),
		strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "required"),
		strings.Contains(lowered, "must not"):
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

func teamNames() []string {
	out := make([]string, 0, len(domain.Teams))
	for _, t := range domain.Teams {
		out = append(out, string(t))
	}
	return out
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
			applyIdentitySecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyIdentitySecurity(oas *huma.OpenAPI, basePath string) {
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
	oas.Components.SecuritySchemes["userHeader"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-User-Id",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"userHeader": {}},
		{},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
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
    <title>Tracerline API Docs</title>
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
      Identify with Authorization: Bearer &lt;token&gt; or X-User-Id.
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

func registerVocabularies(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-vocabularies",
		Method:      http.MethodGet,
		Path:        "/vocabularies",
		Summary:     "Status vocabulary per team",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []VocabularyResponse `json:"body"`
	}, error) {
		return &struct {
			Body []VocabularyResponse `json:"body"`
		}{Body: vocabularies()}, nil
	})
}

type changeOutput struct {
	AuditWarning string `header:"X-Audit-Warning"`
	Body         ChangeResponse
}

type streamChangeOutput struct {
	AuditWarning string `header:"X-Audit-Warning"`
	Body         StreamChangeResponse
}

func registerTeamStatuses(api huma.API, h handlers) {
	type productOrderPath struct {
		ProductOrder string `path:"product_order"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-team-statuses",
		Method:      http.MethodGet,
		Path:        "/product-orders/{product_order}/team-statuses",
		Summary:     "Team statuses of a product order",
	}, func(ctx context.Context, input *productOrderPath) (*struct {
		Body TeamStatusSetResponse `json:"body"`
	}, error) {
		set, err := h.engine.TeamStatuses(ctx, input.ProductOrder)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamStatusSetResponse `json:"body"`
		}{Body: teamStatusSetResponse(set)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-team-status",
		Method:      http.MethodPut,
		Path:        "/product-orders/{product_order}/team-statuses/{team}",
		Summary:     "Set a team's status",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProductOrder string `path:"product_order"`
		Team         string `path:"team"`
		Body         SetStatusRequest
	}) (*changeOutput, error) {
		team, err := domain.ParseTeam(input.Team)
		if err != nil {
			return nil, handleError(err)
		}
		change, err := h.engine.SetTeamStatus(ctx, engine.StatusUpdate{
			ProductOrder: input.ProductOrder,
			Team:         team,
			Status:       domain.Status(input.Body.Status),
			Feedback:     input.Body.Feedback,
			UserID:       userIDFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &changeOutput{AuditWarning: h.auditWarning("set-team-status", change.AuditErr), Body: changeResponse(change)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-team-feedback",
		Method:      http.MethodPut,
		Path:        "/product-orders/{product_order}/team-statuses/{team}/feedback",
		Summary:     "Replace a team's feedback",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProductOrder string `path:"product_order"`
		Team         string `path:"team"`
		Body         SetFeedbackRequest
	}) (*changeOutput, error) {
		team, err := domain.ParseTeam(input.Team)
		if err != nil {
			return nil, handleError(err)
		}
		change, err := h.engine.SetTeamFeedback(ctx, input.ProductOrder, team, input.Body.Feedback, userIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &changeOutput{AuditWarning: h.auditWarning("set-team-feedback", change.AuditErr), Body: changeResponse(change)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "normalize-team-statuses",
		Method:      http.MethodPost,
		Path:        "/product-orders/{product_order}/team-statuses/normalize",
		Summary:     "Repair and persist illegal statuses",
	}, func(ctx context.Context, input *productOrderPath) (*changeOutput, error) {
		change, err := h.engine.NormalizeTeamStatuses(ctx, input.ProductOrder, userIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &changeOutput{AuditWarning: h.auditWarning("normalize-team-statuses", change.AuditErr), Body: changeResponse(change)}, nil
	})
}

func registerStreams(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-streams",
		Method:      http.MethodGet,
		Path:        "/product-orders/{product_order}/streams",
		Summary:     "List traceability streams of a product order",
	}, func(ctx context.Context, input *struct {
		ProductOrder string `path:"product_order"`
	}) (*struct {
		Body []domain.TracerStream `json:"body"`
	}, error) {
		items, err := h.engine.Repo.ListStreams(ctx, input.ProductOrder)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.TracerStream{}
		}
		return &struct {
			Body []domain.TracerStream `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-stream",
		Method:        http.MethodPost,
		Path:          "/product-orders/{product_order}/streams",
		Summary:       "Create a traceability stream",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProductOrder string `path:"product_order"`
		Body         CreateStreamRequest
	}) (*streamChangeOutput, error) {
		s, err := streamFromRequest(input.ProductOrder, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		change, err := h.engine.CreateStream(ctx, s, userIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &streamChangeOutput{AuditWarning: h.auditWarning("create-stream", change.AuditErr), Body: streamChangeResponse(change)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-stream",
		Method:      http.MethodGet,
		Path:        "/streams/{stream_id}",
		Summary:     "Get a traceability stream",
	}, func(ctx context.Context, input *struct {
		StreamID string `path:"stream_id"`
	}) (*struct {
		Body domain.TracerStream `json:"body"`
	}, error) {
		s, err := h.engine.Repo.GetStream(ctx, input.StreamID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TracerStream `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stream-progress",
		Method:      http.MethodGet,
		Path:        "/streams/{stream_id}/progress",
		Summary:     "Per-team and overall completion of a stream",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		StreamID string `path:"stream_id"`
		Round    string `query:"round"`
	}) (*struct {
		Body domain.StreamProgress `json:"body"`
	}, error) {
		var round *bool
		if input.Round != "" {
			v, err := strconv.ParseBool(input.Round)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid round", map[string]any{"round": input.Round})
			}
			round = &v
		}
		p, err := h.engine.Progress(ctx, input.StreamID, round)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StreamProgress `json:"body"`
		}{Body: p}, nil
	})
}

func registerSections(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "update-section",
		Method:      http.MethodPatch,
		Path:        "/streams/{stream_id}/sections/{position}",
		Summary:     "Update a section",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StreamID string `path:"stream_id"`
		Position int    `path:"position"`
		Body     UpdateSectionRequest
	}) (*streamChangeOutput, error) {
		patch, err := sectionPatch(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		change, err := h.engine.UpdateSection(ctx, input.StreamID, input.Position, patch, userIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &streamChangeOutput{AuditWarning: h.auditWarning("update-section", change.AuditErr), Body: streamChangeResponse(change)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "attach-file",
		Method:        http.MethodPost,
		Path:          "/streams/{stream_id}/sections/{position}/files",
		Summary:       "Attach a file reference to a section",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StreamID string `path:"stream_id"`
		Position int    `path:"position"`
		Body     FileRequest
	}) (*streamChangeOutput, error) {
		change, err := h.engine.AttachFile(ctx, input.StreamID, input.Position, domain.FileRef{Name: input.Body.Name, URL: input.Body.URL}, userIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &streamChangeOutput{AuditWarning: h.auditWarning("attach-file", change.AuditErr), Body: streamChangeResponse(change)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "detach-file",
		Method:      http.MethodDelete,
		Path:        "/streams/{stream_id}/sections/{position}/files/{file_id}",
		Summary:     "Detach a file reference from a section",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StreamID string `path:"stream_id"`
		Position int    `path:"position"`
		FileID   string `path:"file_id"`
	}) (*streamChangeOutput, error) {
		change, err := h.engine.DetachFile(ctx, input.StreamID, input.Position, input.FileID, userIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &streamChangeOutput{AuditWarning: h.auditWarning("detach-file", change.AuditErr), Body: streamChangeResponse(change)}, nil
	})
}

// sectionPatch maps the request onto an engine patch. An explicit JSON null
// clears assigned_user and notes.
func sectionPatch(ctx context.Context, body UpdateSectionRequest) (engine.SectionPatch, error) {
	p := engine.SectionPatch{
		Name:         body.Name,
		Description:  body.Description,
		AssignedUser: body.AssignedUser,
		Notes:        body.Notes,
		Required:     body.Required,
	}
	raw := rawBodyMap(ctx)
	empty := ""
	if v, ok := raw["assigned_user"]; ok && isNullRaw(v) {
		p.AssignedUser = &empty
	}
	if v, ok := raw["notes"]; ok && isNullRaw(v) {
		p.Notes = &empty
	}
	if body.Teams != nil {
		teams, err := parseTeams(*body.Teams)
		if err != nil {
			return p, err
		}
		p.Teams = teams
		p.SetTeams = true
	} else if v, ok := raw["teams"]; ok && isNullRaw(v) {
		p.SetTeams = true
	}
	return p, nil
}

func registerActivity(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/product-orders/{product_order}/activity",
		Summary:     "List recent activity of a product order",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProductOrder string `path:"product_order"`
		Limit        int    `query:"limit" default:"50"`
		Cursor       string `query:"cursor"`
	}) (*struct {
		Body paginatedActivity `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.engine.Activity(ctx, input.ProductOrder, limit+1, cursorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedActivity{Items: []domain.ActivityLogEntry{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedActivity `json:"body"`
		}{Body: resp}, nil
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

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	return outer
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
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
