package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tracerline/internal/config"
	"tracerline/internal/db"
	"tracerline/internal/domain"
	"tracerline/internal/engine"
	"tracerline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, identity IdentityConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0", Identity: identity})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestTeamStatusRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t, IdentityConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/product-orders/PO-7/team-statuses"

	res, data := doJSON(t, client, http.MethodGet, base, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get statuses: %d %s", res.StatusCode, string(data))
	}
	var initial TeamStatusSetResponse
	if err := json.Unmarshal(data, &initial); err != nil {
		t.Fatal(err)
	}
	if len(initial.Records) != 4 || initial.Records[3].Team != "Delivery" || initial.Records[3].Status != "Not Sent" {
		t.Fatalf("unexpected defaults %+v", initial)
	}

	res, data = doJSON(t, client, http.MethodPut, base+"/sac", map[string]any{
		"status":   "Returned",
		"feedback": "missing splice plan",
	}, map[string]string{"X-User-Id": "dana"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set status: %d %s", res.StatusCode, string(data))
	}
	var change ChangeResponse
	if err := json.Unmarshal(data, &change); err != nil {
		t.Fatal(err)
	}
	sac := change.Records[1]
	if sac.Status != "Returned" || sac.Feedback != "missing splice plan" || !sac.RequiresFeedback {
		t.Fatalf("unexpected SAC record %+v", sac)
	}
	if len(change.Activity) == 0 || change.Activity[0].UserID != "dana" || change.Activity[0].PreviousStatus != domain.StatusPending {
		t.Fatalf("unexpected activity %+v", change.Activity)
	}
	if res.Header.Get("X-Audit-Warning") != "" {
		t.Fatalf("unexpected audit warning %q", res.Header.Get("X-Audit-Warning"))
	}

	res, data = doJSON(t, client, http.MethodPut, base+"/SAC/feedback", map[string]any{"feedback": "splice plan attached"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set feedback: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &change)
	if change.Records[1].Feedback != "splice plan attached" || change.Activity[0].UserID != "anonymous" {
		t.Fatalf("unexpected feedback change %+v", change)
	}
}

func TestSetStatusRejections(t *testing.T) {
	srv, cleanup := newTestServer(t, IdentityConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/product-orders/PO-8/team-statuses"

	res, data := doJSON(t, client, http.MethodPut, base+"/Delivery", map[string]any{"status": "Pending POP"}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "invalid_status_for_team" {
		t.Fatalf("expected invalid_status_for_team, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, base+"/QA", map[string]any{"status": "Completed"}, nil)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "unknown_team" {
		t.Fatalf("expected unknown_team, got %d %s", res.StatusCode, string(data))
	}
	var n int
	if err := srv.Engine.DB.QueryRow(`SELECT count(*) FROM team_statuses WHERE product_order='PO-8'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("rejected edits must not persist, found %d rows", n)
	}
}

func TestNormalizeEndpointRepairsDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t, IdentityConfig{})
	defer cleanup()
	if _, err := srv.Engine.DB.Exec(`INSERT INTO team_statuses(product_order,team,ordinal,status,updated_at) VALUES ('PO-9','Delivery',3,'Pending POP','2024-01-01T00:00:00Z')`); err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/product-orders/PO-9/team-statuses/normalize", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("normalize: %d %s", res.StatusCode, string(data))
	}
	var change ChangeResponse
	if err := json.Unmarshal(data, &change); err != nil {
		t.Fatal(err)
	}
	if change.Records[3].Status != "Not Sent" {
		t.Fatalf("expected Delivery repaired, got %+v", change.Records[3])
	}
	if len(change.Activity) != 1 || change.Activity[0].ActivityType != domain.ActivityStatusNormalized {
		t.Fatalf("expected one normalization entry, got %+v", change.Activity)
	}
}

func TestStreamProgressEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, IdentityConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/product-orders/PO-3/streams", map[string]any{
		"name": "Main",
		"sections": []map[string]any{
			{"position": 10, "name": "Survey", "required": true, "teams": []string{"Planning"}, "files": []map[string]any{{"name": "survey.pdf"}}},
			{"position": 20, "name": "Design", "required": true, "teams": []string{"planning", "SAC"}},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create stream: %d %s", res.StatusCode, string(data))
	}
	var created StreamChangeResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatal(err)
	}
	streamID := created.Stream.ID
	if streamID == "" || len(created.Stream.Sections) != 2 {
		t.Fatalf("unexpected stream %+v", created.Stream)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/streams/"+streamID+"/progress", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress: %d %s", res.StatusCode, string(data))
	}
	var p domain.StreamProgress
	_ = json.Unmarshal(data, &p)
	if p.Teams.Planning != 50 || p.Teams.SAC != 0 || p.Teams.NT != 0 || p.Overall != 50 {
		t.Fatalf("unexpected progress %+v", p)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/streams/"+streamID+"/sections/20/files", map[string]any{"name": "design.dwg"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("attach: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/streams/"+streamID+"/progress?round=true", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &p)
	if p.Teams.Planning != 100 || p.Teams.SAC != 100 || p.Overall != 100 || !p.OverallRounded {
		t.Fatalf("unexpected progress after attach %+v", p)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/streams/"+streamID+"/sections/99/files", map[string]any{"name": "x.pdf"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing section, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/product-orders/PO-3/streams", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list streams: %d %s", res.StatusCode, string(data))
	}
	var streams []domain.TracerStream
	_ = json.Unmarshal(data, &streams)
	if len(streams) != 1 || streams[0].ID != streamID {
		t.Fatalf("unexpected stream list %+v", streams)
	}
}

func TestUpdateSectionClearsWithNull(t *testing.T) {
	srv, cleanup := newTestServer(t, IdentityConfig{})
	defer cleanup()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/product-orders/PO-4/streams", map[string]any{
		"name":     "Main",
		"sections": []map[string]any{{"position": 1, "name": "Survey", "assigned_user": "erin", "teams": []string{"NT"}}},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create stream: %d %s", res.StatusCode, string(data))
	}
	var created StreamChangeResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/streams/"+created.Stream.ID+"/sections/1", map[string]any{
		"assigned_user": nil,
		"required":      true,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch section: %d %s", res.StatusCode, string(data))
	}
	var updated StreamChangeResponse
	_ = json.Unmarshal(data, &updated)
	sec := updated.Stream.Sections[0]
	if sec.AssignedUser != nil || !sec.Required || len(sec.Teams) != 1 {
		t.Fatalf("unexpected section after patch %+v", sec)
	}
}

func TestEmptyStreamProgress(t *testing.T) {
	srv, cleanup := newTestServer(t, IdentityConfig{})
	defer cleanup()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/product-orders/PO-5/streams", map[string]any{"name": "Empty"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create stream: %d %s", res.StatusCode, string(data))
	}
	var created StreamChangeResponse
	_ = json.Unmarshal(data, &created)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/streams/"+created.Stream.ID+"/progress", nil, nil)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "empty_stream" {
		t.Fatalf("expected empty_stream, got %d %s", res.StatusCode, string(data))
	}
}

func TestActivityPagination(t *testing.T) {
	srv, cleanup := newTestServer(t, IdentityConfig{})
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/product-orders/PO-6"
	for _, status := range []string{"Pending POP", "Completed", "In Progress"} {
		res, data := doJSON(t, client, http.MethodPut, base+"/team-statuses/Planning", map[string]any{"status": status}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("set %s: %d %s", status, res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, client, http.MethodGet, base+"/activity?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activity: %d %s", res.StatusCode, string(data))
	}
	var page paginatedActivity
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 2 || page.NextCursor == "" || page.Items[0].TeamStatus != domain.StatusInProgress {
		t.Fatalf("unexpected first page %+v", page)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/activity?limit=2&cursor="+page.NextCursor, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activity page 2: %d %s", res.StatusCode, string(data))
	}
	var page2 paginatedActivity
	if err := json.Unmarshal(data, &page2); err != nil {
		t.Fatal(err)
	}
	if len(page2.Items) != 1 || page2.NextCursor != "" || page2.Items[0].TeamStatus != domain.StatusPendingPOP {
		t.Fatalf("unexpected second page %+v", page2)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/activity?cursor=abc", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad cursor 400, got %d %s", res.StatusCode, string(data))
	}
}

func TestJWTIdentity(t *testing.T) {
	secret := "test-secret"
	srv, cleanup := newTestServer(t, IdentityConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/v0/product-orders/PO-1/team-statuses/NT"

	res, data := doJSON(t, client, http.MethodPut, url, map[string]any{"status": "Completed"}, map[string]string{"X-User-Id": "mallory"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d %s", res.StatusCode, string(data))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "frank"}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, client, http.MethodPut, url, map[string]any{"status": "Completed"}, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set with token: %d %s", res.StatusCode, string(data))
	}
	var change ChangeResponse
	_ = json.Unmarshal(data, &change)
	if len(change.Activity) != 1 || change.Activity[0].UserID != "frank" {
		t.Fatalf("expected activity by token subject, got %+v", change.Activity)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must stay open, got %d", res.StatusCode)
	}
}

func TestVocabulariesAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t, IdentityConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/vocabularies", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("vocabularies: %d %s", res.StatusCode, string(data))
	}
	var vocab []VocabularyResponse
	_ = json.Unmarshal(data, &vocab)
	if len(vocab) != 4 || vocab[3].Team != "Delivery" || vocab[3].Initial != "Not Sent" {
		t.Fatalf("unexpected vocabularies %+v", vocab)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "bearerAuth") {
		t.Fatalf("unexpected openapi response %d", res.StatusCode)
	}
}
