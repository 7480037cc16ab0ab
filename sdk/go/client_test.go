package ascendsdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientSessionFlow(t *testing.T) {
	var gotAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v0/sessions":
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"player_id":"p1"`) {
				t.Errorf("unexpected create body %s", body)
			}
			io.WriteString(w, `{"session":{"id":"s1","player_id":"p1","status":"active"},"token":"tok"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v0/sessions/s1/conversations/contact_vane/choices":
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			if req["choice_id"] == "choice_draft_charter" {
				io.WriteString(w, `{"accepted":true,"conversation":{"contact_id":"contact_vane","phase":"revealing","messages":[{"text":"DRAFT CHARTER","is_player_choice":true}],"choices":[]}}`)
				return
			}
			w.WriteHeader(http.StatusConflict)
			io.WriteString(w, `{"error":{"code":"choice_rejected","message":"conversation is not awaiting this choice"}}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v0/sessions/s1/events":
			if r.URL.Query().Get("limit") != "5" || r.URL.Query().Get("cursor") != "42" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			io.WriteString(w, `{"items":[{"id":41,"type":"dialogue.choice","session_id":"s1","payload":{}}],"next_cursor":"41"}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/v0/sessions/s1/notifications/n1":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"code":"not_found","message":"nope"}}`)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := New(srv.URL + "/")
	sess, err := c.CreateSession(ctx, "p1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.ID != "s1" || c.SessionID != "s1" || c.Token != "tok" {
		t.Fatalf("client not bound to session: %+v %+v", sess, c)
	}

	conv, err := c.Choose(ctx, "contact_vane", "choice_draft_charter")
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if len(conv.Messages) != 1 || !conv.Messages[0].IsPlayerChoice {
		t.Fatalf("unexpected conversation %+v", conv)
	}
	if _, err := c.Choose(ctx, "contact_vane", "choice_order_hardware"); !errors.Is(err, ErrChoiceRejected) {
		t.Fatalf("expected ErrChoiceRejected, got %v", err)
	}

	page, err := c.EventsPage(ctx, 5, "42")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor != "41" {
		t.Fatalf("unexpected page %+v", page)
	}

	if err := c.DismissNotification(ctx, "n1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	_, err = c.ActiveTask(ctx, "doc_missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("expected not_found api error, got %v", err)
	}

	if gotAuth[0] != "" {
		t.Fatalf("create should be unauthenticated, got %q", gotAuth[0])
	}
	for _, h := range gotAuth[1:] {
		if h != "Bearer tok" {
			t.Fatalf("expected bearer token, got %q", h)
		}
	}
}

func TestClientProcessMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v0/sessions/s1/processes/proc_develop_charter/select":
			io.WriteString(w, `{"process_id":"proc_develop_charter","assigned":{},"missing":["input_business_case","input_agreements"],"projected_quality":0}`)
		case r.Method == http.MethodPut && r.URL.Path == "/v0/sessions/s1/process/inputs/input_business_case":
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			if req["document_id"] != "ev_market_analysis" {
				t.Errorf("unexpected assign body %v", req)
			}
			io.WriteString(w, `{"process_id":"proc_develop_charter","assigned":{"input_business_case":"ev_market_analysis"},"missing":["input_agreements"],"projected_quality":54}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v0/sessions/s1/process/execute":
			w.WriteHeader(http.StatusConflict)
			io.WriteString(w, `{"error":{"code":"missing_inputs","message":"required inputs missing","details":{"missing":["input_agreements"]}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"code":"not_found","message":"nope"}}`)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := New(srv.URL)
	c.SessionID, c.Token = "s1", "tok"

	sel, err := c.SelectProcess(ctx, "proc_develop_charter")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(sel.Missing) != 2 {
		t.Fatalf("unexpected selection %+v", sel)
	}
	sel, err = c.AssignInput(ctx, "input_business_case", "ev_market_analysis")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if sel.Assigned["input_business_case"] != "ev_market_analysis" || sel.Quality != 54 {
		t.Fatalf("unexpected selection %+v", sel)
	}
	_, err = c.ExecuteProcess(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || apiErr.Code != "missing_inputs" {
		t.Fatalf("expected missing_inputs, got %v", err)
	}
}
