package tracerlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSetTeamStatusSendsIdentityAndReadsWarning(t *testing.T) {
	var gotPath, gotUser string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotUser = r.Header.Get("X-User-Id")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("X-Audit-Warning", "activity not recorded")
		_, _ = io.WriteString(w, `{"product_order":"PO 1","records":[{"team":"SAC","status":"Returned","feedback":"why","requires_feedback":true}],"activity":[{"id":3,"activity_type":"team.status.updated"}]}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.UserID = "dana"
	fb := "why"
	change, err := c.SetTeamStatus(context.Background(), "PO 1", "SAC", "Returned", &fb)
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/v0/product-orders/PO%201/team-statuses/SAC" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotUser != "dana" || gotBody["status"] != "Returned" || gotBody["feedback"] != "why" {
		t.Fatalf("unexpected request user=%s body=%v", gotUser, gotBody)
	}
	if r, ok := change.Record("sac"); !ok || !r.RequiresFeedback {
		t.Fatalf("unexpected record %+v", change.Records)
	}
	if change.AuditWarning == "" || len(change.Activity) != 1 {
		t.Fatalf("unexpected change %+v", change)
	}
}

func TestAPIErrorDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"error":{"code":"invalid_status_for_team","message":"status \"Pending POP\" is not valid for team Delivery"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).SetTeamStatus(context.Background(), "PO-1", "Delivery", "Pending POP", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "invalid_status_for_team" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestProgressRoundQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, `{"stream_id":"s1","teams":{"planning":50,"sac":0,"nt":100},"overall":33,"overall_rounded":true}`)
	}))
	defer srv.Close()

	round := true
	p, err := New(srv.URL).Progress(context.Background(), "s1", &round)
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "round=true" || p.Teams.Planning != 50 || p.Teams.NT != 100 || p.Overall != 33 {
		t.Fatalf("unexpected progress %+v (query %q)", p, gotQuery)
	}
}

func TestActivityPageBuildsQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, `{"items":[{"id":9}],"next_cursor":"9"}`)
	}))
	defer srv.Close()

	page, err := New(srv.URL).ActivityPage(context.Background(), "PO-1", 1, "12")
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "cursor=12&limit=1" || page.NextCursor != "9" || len(page.Items) != 1 {
		t.Fatalf("unexpected page %+v (query %q)", page, gotQuery)
	}
}
