package server

import (
	"ascend/internal/content"
	"ascend/internal/domain"
	"ascend/internal/engine"
	"ascend/internal/processmap"
)

// Request payloads

type CreateSessionRequest struct {
	PlayerID string `json:"player_id,omitempty" example:"player-42"`
}

type ChooseRequest struct {
	ChoiceID string `json:"choice_id" minLength:"1" example:"choice_draft_charter"`
}

type HighlightRequest struct {
	HighlightID string `json:"highlight_id" minLength:"1" example:"hl_roi_20_percent"`
}

type AssignInputRequest struct {
	DocumentID string `json:"document_id" minLength:"1" example:"ev_market_analysis"`
}

// Response payloads

type ExecuteProcessResponse struct {
	Execution processmap.Execution  `json:"execution"`
	Documents []processmap.Document `json:"documents"`
}

type CreateSessionResponse struct {
	Session domain.Session `json:"session"`
	Token   string         `json:"token"`
}

type TreeResponse struct {
	ID          string `json:"id"`
	ContactID   string `json:"contact_id"`
	StartNodeID string `json:"start_node_id"`
	Nodes       int    `json:"nodes"`
}

type ChoiceResponse struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Style string `json:"style,omitempty" enum:"safe,risky,neutral"`
}

// ConversationResponse is a conversation plus the choices currently on offer.
type ConversationResponse struct {
	engine.ConversationState
	Choices []ChoiceResponse `json:"choices"`
}

type ChooseResponse struct {
	Accepted     bool                 `json:"accepted"`
	Conversation ConversationResponse `json:"conversation"`
}

type AdvanceResponse struct {
	Advanced     bool                 `json:"advanced"`
	Conversation ConversationResponse `json:"conversation"`
}

type TaskResponse struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	TaskType   string `json:"task_type"`
	Prompt     string `json:"prompt"`
	Hint       string `json:"hint,omitempty"`
	LevelID    int    `json:"level_id"`
}

type EventResponse struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	ContactID *string        `json:"contact_id,omitempty"`
	EntityID  *string        `json:"entity_id,omitempty"`
	Payload   map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func conversationResponse(c engine.ConversationState, node *content.Node) ConversationResponse {
	if c.Messages == nil {
		c.Messages = []engine.Message{}
	}
	resp := ConversationResponse{ConversationState: c, Choices: []ChoiceResponse{}}
	if node == nil || !c.AwaitingChoice {
		return resp
	}
	for _, ch := range node.Choices {
		resp.Choices = append(resp.Choices, ChoiceResponse{ID: ch.ID, Label: ch.Label, Style: string(ch.Style)})
	}
	return resp
}

func taskResponse(t content.DocumentTask) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		DocumentID: t.DocumentID,
		TaskType:   t.TaskType,
		Prompt:     t.Prompt,
		Hint:       t.Hint,
		LevelID:    t.LevelID,
	}
}

func eventResponse(e domain.Event) EventResponse {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		SessionID: e.SessionID,
		ContactID: e.ContactID,
		EntityID:  e.EntityID,
		Payload:   payload,
	}
}

func treeResponses(trees []*content.Tree) []TreeResponse {
	out := make([]TreeResponse, 0, len(trees))
	for _, t := range trees {
		out = append(out, TreeResponse{ID: t.ID, ContactID: t.ContactID, StartNodeID: t.StartNodeID, Nodes: len(t.Nodes())})
	}
	return out
}
