package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ascend/internal/content"
	"ascend/internal/doctasks"
	"ascend/internal/domain"
	"ascend/internal/gamestate"
	"ascend/internal/processmap"
	"ascend/internal/repo"
	"ascend/internal/session"
)

// Config for the HTTP API handler.
type Config struct {
	Sessions *session.Manager
	// Journal serves the events endpoint. Nil disables it.
	Journal        *repo.Repo
	BasePath       string
	Auth           AuthConfig
	AllowedOrigins []string
	Logger         *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"contact_locked"`
	Message string         `json:"message" example:"contact is locked: contact_marcus"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the game API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("server: session manager required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Ascend API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerContent(group, cfg.Sessions)
	registerSessions(group, cfg.Sessions, cfg.Auth)
	registerConversations(group, cfg.Sessions)
	registerNotifications(group, cfg.Sessions)
	registerDocuments(group, cfg.Sessions)
	registerProcesses(group, cfg.Sessions)
	registerEvents(group, cfg.Sessions, cfg.Journal)
	registerStream(router, basePath, cfg.Sessions, newUpgrader(cfg.AllowedOrigins), cfg.Logger)
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
	msg := err.Error()
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, gamestate.ErrUnknownContact),
		errors.Is(err, gamestate.ErrUnknownNotification),
		errors.Is(err, content.ErrTaskNotFound),
		errors.Is(err, content.ErrProcessNotFound),
		errors.Is(err, session.ErrNoActiveTask):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, session.ErrContactLocked):
		return newAPIError(http.StatusForbidden, "contact_locked", msg, nil)
	case errors.Is(err, doctasks.ErrTaskLocked):
		return newAPIError(http.StatusConflict, "task_locked", msg, nil)
	case errors.Is(err, doctasks.ErrTaskCompleted):
		return newAPIError(http.StatusConflict, "task_completed", msg, nil)
	case errors.Is(err, processmap.ErrProcessLocked):
		return newAPIError(http.StatusForbidden, "process_locked", msg, nil)
	case errors.Is(err, processmap.ErrNoSelection):
		return newAPIError(http.StatusConflict, "no_selection", msg, nil)
	case errors.Is(err, processmap.ErrMissingInputs):
		var missing *processmap.MissingInputsError
		details := map[string]any{}
		if errors.As(err, &missing) {
			details["missing"] = missing.Missing
		}
		return newAPIError(http.StatusConflict, "missing_inputs", msg, details)
	case errors.Is(err, processmap.ErrUnknownSlot), errors.Is(err, processmap.ErrUnknownDocument):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, session.ErrLoopClosed):
		return newAPIError(http.StatusGone, "session_closed", msg, nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", msg, nil)
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// sessionFor authorizes the caller for id and returns the live session.
func sessionFor(ctx context.Context, mgr *session.Manager, id string) (*session.Session, huma.StatusError) {
	if err := requireSession(ctx, id); err != nil {
		return nil, err
	}
	s, err := mgr.Get(id)
	if err != nil {
		return nil, handleError(err)
	}
	return s, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
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
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		path.Join(basePath, "health"):        true,
		path.Join(basePath, "content/trees"): true,
	}
	createPath := path.Join(basePath, "sessions")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if open[route] || (route == createPath && op == item.Post) {
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
    <title>Ascend API Docs</title>
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
      Create a session to receive a bearer token scoped to it.
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

func registerContent(api huma.API, mgr *session.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "list-trees",
		Method:      http.MethodGet,
		Path:        "/content/trees",
		Summary:     "List dialogue trees in the loaded content pack",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TreeResponse `json:"body"`
	}, error) {
		return &struct {
			Body []TreeResponse `json:"body"`
		}{Body: treeResponses(mgr.Content().Trees())}, nil
	})
}

type sessionPath struct {
	SessionID string `path:"session_id"`
}

func registerSessions(api huma.API, mgr *session.Manager, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "create-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Start a new game session",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body *CreateSessionRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body CreateSessionResponse `json:"body"`
	}, error) {
		player := ""
		if input.Body != nil {
			player = strings.TrimSpace(input.Body.PlayerID)
		}
		s, err := mgr.Create(ctx, player)
		if err != nil {
			return nil, handleError(err)
		}
		info := s.Info()
		token, err := signSessionToken(authCfg, info.PlayerID, info.ID)
		if err != nil {
			mgr.Close(info.ID)
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body CreateSessionResponse `json:"body"`
		}{Body: CreateSessionResponse{Session: info, Token: token}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get the whole session state",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body session.View `json:"body"`
	}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		view, err := s.View(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body session.View `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/reset",
		Summary:     "Restart the game from its initial state",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body session.View `json:"body"`
	}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		if err := s.Reset(ctx); err != nil {
			return nil, handleError(err)
		}
		view, err := s.View(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body session.View `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contacts",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/contacts",
		Summary:     "List unlocked contacts with unread state and previews",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body []domain.Contact `json:"body"`
	}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		contacts, err := s.Contacts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if contacts == nil {
			contacts = []domain.Contact{}
		}
		return &struct {
			Body []domain.Contact `json:"body"`
		}{Body: contacts}, nil
	})
}

type conversationPath struct {
	SessionID string `path:"session_id"`
	ContactID string `path:"contact_id"`
}

func registerConversations(api huma.API, mgr *session.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "get-conversation",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/conversations/{contact_id}",
		Summary:     "Get a conversation and the choices on offer",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *conversationPath) (*struct {
		Body ConversationResponse `json:"body"`
	}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		conv, node, err := s.Conversation(ctx, input.ContactID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConversationResponse `json:"body"`
		}{Body: conversationResponse(conv, node)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "begin-conversation",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/conversations/{contact_id}/begin",
		Summary:     "Open a contact and start or resume its conversation",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *conversationPath) (*struct {
		Body ConversationResponse `json:"body"`
	}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		if _, err := s.Begin(ctx, input.ContactID); err != nil {
			return nil, handleError(err)
		}
		conv, node, err := s.Conversation(ctx, input.ContactID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConversationResponse `json:"body"`
		}{Body: conversationResponse(conv, node)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-conversation",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/conversations/{contact_id}/advance",
		Summary:     "Skip the typing delay of the message being revealed",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *conversationPath) (*struct {
		Body AdvanceResponse `json:"body"`
	}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		_, advanced, err := s.Advance(ctx, input.ContactID)
		if err != nil {
			return nil, handleError(err)
		}
		conv, node, err := s.Conversation(ctx, input.ContactID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdvanceResponse `json:"body"`
		}{Body: AdvanceResponse{Advanced: advanced, Conversation: conversationResponse(conv, node)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "choose",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/conversations/{contact_id}/choices",
		Summary:     "Select one of the choices on offer",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string        `path:"session_id"`
		ContactID string        `path:"contact_id"`
		Body      ChooseRequest `json:"body"`
	}) (*struct {
		Body ChooseResponse `json:"body"`
	}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		_, accepted, err := s.Choose(ctx, input.ContactID, input.Body.ChoiceID)
		if err != nil {
			return nil, handleError(err)
		}
		conv, node, err := s.Conversation(ctx, input.ContactID)
		if err != nil {
			return nil, handleError(err)
		}
		if !accepted {
			return nil, newAPIError(http.StatusConflict, "choice_rejected", "conversation is not awaiting this choice",
				map[string]any{"choice_id": input.Body.ChoiceID, "phase": string(conv.Phase)})
		}
		return &struct {
			Body ChooseResponse `json:"body"`
		}{Body: ChooseResponse{Accepted: true, Conversation: conversationResponse(conv, node)}}, nil
	})
}

func registerNotifications(api huma.API, mgr *session.Manager) {
	huma.Register(api, huma.Operation{
		OperationID:   "dismiss-notification",
		Method:        http.MethodDelete,
		Path:          "/sessions/{session_id}/notifications/{notification_id}",
		Summary:       "Dismiss a notification",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID      string `path:"session_id"`
		NotificationID string `path:"notification_id"`
	}) (*struct{}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		if err := s.DismissNotification(ctx, input.NotificationID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDocuments(api huma.API, mgr *session.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "active-document-task",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/documents/{document_id}/task",
		Summary:     "Get the active highlight task for a document",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID  string `path:"session_id"`
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		task, err := s.ActiveTask(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(task)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-highlight",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/tasks/{task_id}/highlight",
		Summary:     "Submit a highlighted passage as the answer to a document task",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string           `path:"session_id"`
		TaskID    string           `path:"task_id"`
		Body      HighlightRequest `json:"body"`
	}) (*struct {
		Body doctasks.Feedback `json:"body"`
	}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		fb, err := s.SubmitHighlight(ctx, input.TaskID, input.Body.HighlightID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body doctasks.Feedback `json:"body"`
		}{Body: fb}, nil
	})
}

func registerProcesses(api huma.API, mgr *session.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "select-process",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/processes/{process_id}/select",
		Summary:     "Put a process card on the bench",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		ProcessID string `path:"process_id"`
	}) (*struct {
		Body processmap.Selection `json:"body"`
	}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		sel, err := s.SelectProcess(ctx, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body processmap.Selection `json:"body"`
		}{Body: sel}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-process-input",
		Method:      http.MethodPut,
		Path:        "/sessions/{session_id}/process/inputs/{slot_id}",
		Summary:     "Slot a document into an input of the selected process",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string             `path:"session_id"`
		SlotID    string             `path:"slot_id"`
		Body      AssignInputRequest `json:"body"`
	}) (*struct {
		Body processmap.Selection `json:"body"`
	}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		sel, err := s.AssignInput(ctx, input.SlotID, input.Body.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body processmap.Selection `json:"body"`
		}{Body: sel}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unassign-process-input",
		Method:      http.MethodDelete,
		Path:        "/sessions/{session_id}/process/inputs/{slot_id}",
		Summary:     "Empty an input slot of the selected process",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		SlotID    string `path:"slot_id"`
	}) (*struct {
		Body processmap.Selection `json:"body"`
	}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		sel, err := s.UnassignInput(ctx, input.SlotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body processmap.Selection `json:"body"`
		}{Body: sel}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-process",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/process/execute",
		Summary:     "Run the selected process and generate its outputs",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body ExecuteProcessResponse `json:"body"`
	}, error) {
		s, herr := sessionFor(ctx, mgr, input.SessionID)
		if herr != nil {
			return nil, herr
		}
		exec, docs, err := s.ExecuteProcess(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExecuteProcessResponse `json:"body"`
		}{Body: ExecuteProcessResponse{Execution: exec, Documents: docs}}, nil
	})
}

func registerEvents(api huma.API, mgr *session.Manager, journal *repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/events",
		Summary:     "List the session journal, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Type      string `query:"type"`
		ContactID string `query:"contact_id"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if err := requireSession(ctx, input.SessionID); err != nil {
			return nil, err
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if journal == nil {
			return &struct {
				Body paginatedEvents `json:"body"`
			}{Body: resp}, nil
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := journal.LatestEvents(ctx, limit+1, repo.EventFilter{
			SessionID: input.SessionID,
			Type:      input.Type,
			ContactID: input.ContactID,
			Before:    cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
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
