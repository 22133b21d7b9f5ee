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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"examline/internal/domain"
	"examline/internal/engine"
	"examline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	BasePath   string
	Auth       AuthConfig
	UploadsDir string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"duplicate_submission"`
	Message string         `json:"message" example:"handle already has a live submission"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"code\":\"2708260012\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Examline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Examline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDemands(group, cfg.Engine)
	registerSubmissions(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerSweep(group, cfg.Engine)
	registerUploads(router, basePath, cfg)
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
	var dup *engine.DuplicateSubmissionError
	if errors.As(err, &dup) {
		return newAPIError(http.StatusConflict, "duplicate_submission", err.Error(), map[string]any{
			"code":     dup.Code,
			"position": dup.Position,
		})
	}
	var sc *engine.StateConflictError
	if errors.As(err, &sc) {
		return newAPIError(http.StatusConflict, "state_conflict", err.Error(), map[string]any{
			"entity": sc.Entity,
			"status": sc.Status,
		})
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	if errors.Is(err, engine.ErrDuplicateCode) {
		return newAPIError(http.StatusConflict, "code_conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
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
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
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

func registerDemands(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-demand",
		Method:        http.MethodPost,
		Path:          "/demands",
		Summary:       "Post a demand",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body struct {
			Title        string `json:"title" minLength:"1"`
			NoticeNumber string `json:"notice_number" minLength:"1"`
			Authority    string `json:"authority" minLength:"1"`
			Office       string `json:"office,omitempty"`
			ExamDate     string `json:"exam_date,omitempty" format:"date"`
			Reward       string `json:"reward" example:"150.00"`
		}
	}) (*struct {
		Body domain.Demand `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reward, err := decimal.NewFromString(input.Body.Reward)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reward must be a decimal amount", nil)
		}
		d, err := e.CreateDemand(ctx, engine.DemandCreateOptions{
			Title:        input.Body.Title,
			NoticeNumber: input.Body.NoticeNumber,
			Authority:    input.Body.Authority,
			Office:       input.Body.Office,
			ExamDate:     input.Body.ExamDate,
			Reward:       reward,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Demand `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-demands",
		Method:      http.MethodGet,
		Path:        "/demands",
		Summary:     "List demands",
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status" enum:"open,under_review,closed,cancelled" required:"false"`
		Limit           int    `query:"limit" minimum:"1" maximum:"200" required:"false"`
		CursorCreatedAt string `query:"cursor_created_at" required:"false"`
		CursorID        string `query:"cursor_id" required:"false"`
	}) (*struct {
		Body struct {
			Demands []domain.Demand `json:"demands"`
		}
	}, error) {
		limit := input.Limit
		if limit == 0 {
			limit = 50
		}
		demands, err := e.Repo.ListDemands(ctx, input.Status, limit, input.CursorCreatedAt, input.CursorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Demands []domain.Demand `json:"demands"`
			}
		}{}
		out.Body.Demands = demands
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-demand",
		Method:      http.MethodGet,
		Path:        "/demands/{demand_id}",
		Summary:     "Demand detail with queue counts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DemandID string `path:"demand_id"`
	}) (*struct {
		Body struct {
			Demand domain.Demand                   `json:"demand"`
			Counts map[domain.SubmissionStatus]int `json:"submission_counts"`
		}
	}, error) {
		d, err := e.Repo.GetDemand(ctx, input.DemandID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountSubmissionsByStatus(ctx, d.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Demand domain.Demand                   `json:"demand"`
				Counts map[domain.SubmissionStatus]int `json:"submission_counts"`
			}
		}{}
		out.Body.Demand = d
		out.Body.Counts = counts
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-demand",
		Method:      http.MethodPatch,
		Path:        "/demands/{demand_id}",
		Summary:     "Update a demand",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DemandID string `path:"demand_id"`
		Body     struct {
			Title        *string `json:"title,omitempty"`
			NoticeNumber *string `json:"notice_number,omitempty"`
			Authority    *string `json:"authority,omitempty"`
			Office       *string `json:"office,omitempty"`
			ExamDate     *string `json:"exam_date,omitempty" format:"date"`
			Reward       *string `json:"reward,omitempty"`
			Status       *string `json:"status,omitempty" enum:"open,under_review,closed,cancelled"`
		}
	}) (*struct {
		Body domain.Demand `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.DemandUpdateOptions{
			ID:           input.DemandID,
			Title:        input.Body.Title,
			NoticeNumber: input.Body.NoticeNumber,
			Authority:    input.Body.Authority,
			Office:       input.Body.Office,
			ExamDate:     input.Body.ExamDate,
			ActorID:      actorID,
		}
		if input.Body.Reward != nil {
			reward, err := decimal.NewFromString(*input.Body.Reward)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "reward must be a decimal amount", nil)
			}
			opts.Reward = &reward
		}
		if input.Body.Status != nil {
			status := domain.DemandStatus(*input.Body.Status)
			opts.Status = &status
		}
		d, err := e.UpdateDemand(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Demand `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-demand-submissions",
		Method:      http.MethodGet,
		Path:        "/demands/{demand_id}/submissions",
		Summary:     "List submissions for a demand",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DemandID        string `path:"demand_id"`
		Status          string `query:"status" enum:"queued,notified,awaiting_review,in_review,approved,paid,rejected,expired" required:"false"`
		Limit           int    `query:"limit" minimum:"1" maximum:"500" required:"false"`
		CursorCreatedAt string `query:"cursor_created_at" required:"false"`
		CursorID        int64  `query:"cursor_id" required:"false"`
	}) (*struct {
		Body struct {
			Submissions []domain.Submission `json:"submissions"`
		}
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetDemand(ctx, input.DemandID); err != nil {
			return nil, handleError(err)
		}
		subs, err := e.Repo.ListSubmissions(ctx, input.DemandID, input.Status, input.Limit, input.CursorCreatedAt, input.CursorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Submissions []domain.Submission `json:"submissions"`
			}
		}{}
		out.Body.Submissions = subs
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-demand-submissions",
		Method:      http.MethodDelete,
		Path:        "/demands/{demand_id}/submissions",
		Summary:     "Bulk-delete submissions",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DemandID string `path:"demand_id"`
		Body     struct {
			IDs []int64 `json:"ids" minItems:"1"`
		}
	}) (*struct {
		Body struct {
			Deleted int64 `json:"deleted"`
		}
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetDemand(ctx, input.DemandID); err != nil {
			return nil, handleError(err)
		}
		n, err := e.Repo.DeleteSubmissions(ctx, input.DemandID, input.Body.IDs)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Deleted int64 `json:"deleted"`
			}
		}{}
		out.Body.Deleted = n
		return out, nil
	})
}

func registerSubmissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-submission-by-code",
		Method:      http.MethodGet,
		Path:        "/submissions/code/{code}",
		Summary:     "Look up a submission and its queue position",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Code string `path:"code"`
	}) (*struct {
		Body struct {
			Submission domain.Submission `json:"submission"`
			Position   int               `json:"position,omitempty"`
			Active     bool              `json:"active"`
		}
	}, error) {
		s, pos, active, err := e.QueuePosition(ctx, input.Code)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Submission domain.Submission `json:"submission"`
				Position   int               `json:"position,omitempty"`
				Active     bool              `json:"active"`
			}
		}{}
		out.Body.Submission = s
		out.Body.Position = pos
		out.Body.Active = active
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-review",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/review",
		Summary:     "Start reviewing a submission",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Submission `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.StartReview(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Submission `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/approve",
		Summary:     "Approve a submission",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			Note string `json:"note,omitempty"`
		}
	}) (*struct {
		Body domain.Submission `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.Approve(ctx, input.ID, input.Body.Note, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Submission `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/reject",
		Summary:     "Reject a submission",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			Note string `json:"note" minLength:"1"`
		}
	}) (*struct {
		Body domain.Submission `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.Reject(ctx, input.ID, input.Body.Note, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Submission `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pay-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/pay",
		Summary:     "Record payout for an approved submission",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			Amount string `json:"amount,omitempty" example:"150.00"`
		}
	}) (*struct {
		Body domain.Submission `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var amount *decimal.Decimal
		if input.Body.Amount != "" {
			a, err := decimal.NewFromString(input.Body.Amount)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "amount must be a decimal amount", nil)
			}
			amount = &a
		}
		s, err := e.MarkPaid(ctx, input.ID, amount, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Submission `json:"body"`
		}{Body: s}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit event tail",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		DemandID string `query:"demand_id" required:"false"`
		Limit    int    `query:"limit" minimum:"1" maximum:"500" required:"false"`
	}) (*struct {
		Body struct {
			Events []domain.Event `json:"events"`
		}
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit == 0 {
			limit = 100
		}
		evts, err := e.Repo.LatestEvents(ctx, input.DemandID, limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Events []domain.Event `json:"events"`
			}
		}{}
		out.Body.Events = evts
		return out, nil
	})
}

func registerSweep(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sweep-expired",
		Method:      http.MethodPost,
		Path:        "/sweep",
		Summary:     "Expire overdue notified submissions and promote successors",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Expired int `json:"expired"`
		}
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		n, err := e.SweepExpired(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Expired int `json:"expired"`
			}
		}{}
		out.Body.Expired = n
		return out, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var doc []byte
	docPath := path.Join(basePath, "openapi.json")
	r.Get(docPath, func(w http.ResponseWriter, r *http.Request) {
		if doc == nil {
			doc, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func swaggerHTML(basePath string) string {
	docURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Examline API Docs</title>
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
      Staff endpoints authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, docURL)
}
