package ascendsdk

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

	"github.com/gorilla/websocket"
)

// Client is a minimal Ascend HTTP API client bound to one game session.
type Client struct {
	BaseURL    string
	SessionID  string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Session struct {
	ID        string `json:"id"`
	PlayerID  string `json:"player_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Message struct {
	NodeID         string `json:"node_id,omitempty"`
	ChoiceID       string `json:"choice_id,omitempty"`
	Speaker        string `json:"speaker"`
	Text           string `json:"text"`
	TimestampMs    int64  `json:"timestamp_ms"`
	IsPlayerChoice bool   `json:"is_player_choice"`
}

type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Style string `json:"style,omitempty"`
}

// Conversation is one contact's dialogue plus the choices on offer.
type Conversation struct {
	ContactID      string    `json:"contact_id"`
	CurrentNodeID  string    `json:"current_node_id,omitempty"`
	Messages       []Message `json:"messages"`
	Phase          string    `json:"phase"`
	IsTyping       bool      `json:"is_typing"`
	AwaitingChoice bool      `json:"awaiting_choice"`
	Ended          bool      `json:"ended"`
	Choices        []Choice  `json:"choices"`
}

type Contact struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	IsUnlocked  bool   `json:"is_unlocked"`
	HasUnread   bool   `json:"has_unread_messages"`
	LastMessage string `json:"last_message,omitempty"`
}

type GameOver struct {
	Reason  string `json:"reason"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Lesson  string `json:"lesson,omitempty"`
}

type Notification struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	Severity   string `json:"severity"`
	DurationMs int    `json:"duration_ms"`
}

// Game is the subset of the game snapshot most clients render.
type Game struct {
	Level         int            `json:"level"`
	LevelTitle    string         `json:"level_title"`
	Constraints   map[string]int `json:"constraints"`
	UnlockedApps  []string       `json:"unlocked_apps"`
	Notifications []Notification `json:"notifications"`
	GameOver      *GameOver      `json:"game_over,omitempty"`
}

// View is the whole session state.
type View struct {
	Session        Session        `json:"session"`
	Game           Game           `json:"game"`
	Halted         bool           `json:"halted"`
	Conversations  []Conversation `json:"conversations"`
	CompletedTasks []string       `json:"completed_tasks"`
	Processes      Processes      `json:"processes"`
}

// ProcessSelection is the process on the bench and its slotted inputs.
type ProcessSelection struct {
	ProcessID string            `json:"process_id"`
	Assigned  map[string]string `json:"assigned"`
	Missing   []string          `json:"missing"`
	Quality   int               `json:"projected_quality"`
}

type GeneratedDocument struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DocumentType string `json:"document_type"`
	ProcessID    string `json:"process_id"`
	OutputID     string `json:"output_id"`
	Quality      int    `json:"quality"`
}

type ProcessExecution struct {
	ID        string   `json:"id"`
	ProcessID string   `json:"process_id"`
	Outputs   []string `json:"output_document_ids"`
	Quality   int      `json:"output_quality"`
}

type Processes struct {
	Selection *ProcessSelection   `json:"selection,omitempty"`
	Documents []GeneratedDocument `json:"documents"`
	History   []ProcessExecution  `json:"history"`
}

// ProcessRun is the result of executing a process.
type ProcessRun struct {
	Execution ProcessExecution    `json:"execution"`
	Documents []GeneratedDocument `json:"documents"`
}

type Task struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	TaskType   string `json:"task_type"`
	Prompt     string `json:"prompt"`
	Hint       string `json:"hint,omitempty"`
	LevelID    int    `json:"level_id"`
}

type Feedback struct {
	TaskID      string `json:"task_id"`
	HighlightID string `json:"highlight_id"`
	Correct     bool   `json:"correct"`
	Message     string `json:"message"`
	Educational string `json:"educational,omitempty"`
	Attempts    int    `json:"attempts"`
}

// Event represents a journal entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	ContactID string         `json:"contact_id,omitempty"`
	EntityID  string         `json:"entity_id,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Frame is one update received from the session stream.
type Frame struct {
	Type      string         `json:"type"`
	Seq       int64          `json:"seq,omitempty"`
	ContactID string         `json:"contact_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	View      *View          `json:"view,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// ErrChoiceRejected is returned when the conversation was not waiting for the choice.
var ErrChoiceRejected = errors.New("choice rejected")

// CreateSession starts a game and binds the client to it.
func (c *Client) CreateSession(ctx context.Context, playerID string) (Session, error) {
	var resp struct {
		Session Session `json:"session"`
		Token   string  `json:"token"`
	}
	body := map[string]any{}
	if playerID != "" {
		body["player_id"] = playerID
	}
	if err := c.do(ctx, http.MethodPost, "v0/sessions", body, &resp); err != nil {
		return Session{}, err
	}
	c.SessionID = resp.Session.ID
	c.Token = resp.Token
	return resp.Session, nil
}

// View returns the whole session state.
func (c *Client) View(ctx context.Context) (View, error) {
	var resp View
	err := c.do(ctx, http.MethodGet, c.sessionPath(""), nil, &resp)
	return resp, err
}

// Reset restarts the game from its initial state.
func (c *Client) Reset(ctx context.Context) (View, error) {
	var resp View
	err := c.do(ctx, http.MethodPost, c.sessionPath("reset"), nil, &resp)
	return resp, err
}

func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	var resp []Contact
	err := c.do(ctx, http.MethodGet, c.sessionPath("contacts"), nil, &resp)
	return resp, err
}

func (c *Client) Conversation(ctx context.Context, contactID string) (Conversation, error) {
	var resp Conversation
	err := c.do(ctx, http.MethodGet, c.conversationPath(contactID, ""), nil, &resp)
	return resp, err
}

// Begin opens a contact and starts or resumes its conversation.
func (c *Client) Begin(ctx context.Context, contactID string) (Conversation, error) {
	var resp Conversation
	err := c.do(ctx, http.MethodPost, c.conversationPath(contactID, "begin"), nil, &resp)
	return resp, err
}

// Advance skips the typing delay of the message being revealed.
func (c *Client) Advance(ctx context.Context, contactID string) (Conversation, bool, error) {
	var resp struct {
		Advanced     bool         `json:"advanced"`
		Conversation Conversation `json:"conversation"`
	}
	err := c.do(ctx, http.MethodPost, c.conversationPath(contactID, "advance"), nil, &resp)
	return resp.Conversation, resp.Advanced, err
}

// Choose selects a choice. ErrChoiceRejected is returned when the
// conversation was not waiting for it.
func (c *Client) Choose(ctx context.Context, contactID, choiceID string) (Conversation, error) {
	var resp struct {
		Accepted     bool         `json:"accepted"`
		Conversation Conversation `json:"conversation"`
	}
	err := c.do(ctx, http.MethodPost, c.conversationPath(contactID, "choices"), map[string]any{"choice_id": choiceID}, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "choice_rejected" {
		return Conversation{}, fmt.Errorf("%w: %s", ErrChoiceRejected, choiceID)
	}
	return resp.Conversation, err
}

func (c *Client) DismissNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.sessionPath("notifications/"+url.PathEscape(id)), nil, nil)
}

// ActiveTask returns the highlight task currently open on a document.
func (c *Client) ActiveTask(ctx context.Context, documentID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.sessionPath("documents/"+url.PathEscape(documentID)+"/task"), nil, &resp)
	return resp, err
}

func (c *Client) SubmitHighlight(ctx context.Context, taskID, highlightID string) (Feedback, error) {
	var resp Feedback
	endpoint := c.sessionPath("tasks/" + url.PathEscape(taskID) + "/highlight")
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"highlight_id": highlightID}, &resp)
	return resp, err
}

func (c *Client) SelectProcess(ctx context.Context, processID string) (ProcessSelection, error) {
	var resp ProcessSelection
	err := c.do(ctx, http.MethodPost, c.sessionPath("processes/"+url.PathEscape(processID)+"/select"), nil, &resp)
	return resp, err
}

// AssignInput slots a document into an input of the selected process.
func (c *Client) AssignInput(ctx context.Context, slotID, documentID string) (ProcessSelection, error) {
	var resp ProcessSelection
	endpoint := c.sessionPath("process/inputs/" + url.PathEscape(slotID))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"document_id": documentID}, &resp)
	return resp, err
}

func (c *Client) UnassignInput(ctx context.Context, slotID string) (ProcessSelection, error) {
	var resp ProcessSelection
	err := c.do(ctx, http.MethodDelete, c.sessionPath("process/inputs/"+url.PathEscape(slotID)), nil, &resp)
	return resp, err
}

// ExecuteProcess runs the selected process.
func (c *Client) ExecuteProcess(ctx context.Context) (ProcessRun, error) {
	var resp ProcessRun
	err := c.do(ctx, http.MethodPost, c.sessionPath("process/execute"), nil, &resp)
	return resp, err
}

// Events returns recent journal entries.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.sessionPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Stream connects to the session's websocket and delivers frames to fn
// until ctx is done, the server closes the stream, or fn returns an error.
func (c *Client) Stream(ctx context.Context, fn func(Frame) error) error {
	u, err := url.Parse(c.base() + "/" + c.sessionPath("stream"))
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", c.Token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
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
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) sessionPath(p string) string {
	base := fmt.Sprintf("v0/sessions/%s", url.PathEscape(c.SessionID))
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) conversationPath(contactID, action string) string {
	p := "conversations/" + url.PathEscape(contactID)
	if action != "" {
		p += "/" + action
	}
	return c.sessionPath(p)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
