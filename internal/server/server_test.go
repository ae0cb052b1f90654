package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"swapline/internal/config"
	"swapline/internal/db"
	"swapline/internal/domain"
	"swapline/internal/engine"
	"swapline/internal/migrate"
	"swapline/internal/notify"
	"swapline/internal/repo"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	dispatcher := notify.New(repo.Repo{DB: conn}, nil)
	e := engine.New(conn, config.Default(), dispatcher)
	ctx := context.Background()
	for _, u := range []domain.User{
		{ID: "ana", DisplayName: "Ana", SkillsOffered: []string{"go"}, SkillsWanted: []string{"piano"}},
		{ID: "ben", DisplayName: "Ben", SkillsOffered: []string{"piano"}, SkillsWanted: []string{"go"}},
	} {
		if err := e.EnsureUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		Notify:   dispatcher,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowUserHeader: true},
	})
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

func asUser(id string) map[string]string {
	return map[string]string{"X-User-Id": id}
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope %s: %v", string(data), err)
	}
	return env.Error
}

func TestSwapFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests", map[string]any{
		"receiver_id":      "ben",
		"offered_skills":   []string{"go"},
		"requested_skills": []string{"piano"},
	}, asUser("ana"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request status %d: %s", res.StatusCode, string(data))
	}
	var req domain.Request
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if req.Status != domain.RequestPending {
		t.Fatalf("new request status %s", req.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+req.ID+"/respond", map[string]any{
		"status": "accepted",
	}, asUser("ben"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("respond status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{
		"request_id": req.ID,
		"date":       time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339),
	}, asUser("ben"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("schedule status %d: %s", res.StatusCode, string(data))
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if session.DurationMinutes != 60 {
		t.Fatalf("default duration %d", session.DurationMinutes)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions/"+session.ID+"/complete", nil, asUser("ana"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/users/ben/reviews", map[string]any{
		"request_id": req.ID,
		"rating":     5,
		"comment":    "patient and clear",
	}, asUser("ana"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add review status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/users/ben/reviews", nil, asUser("ana"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list reviews status %d: %s", res.StatusCode, string(data))
	}
	var summary struct {
		AverageRating float64 `json:"average_rating"`
		TotalReviews  int     `json:"total_reviews"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.AverageRating != 5 || summary.TotalReviews != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/notifications", nil, asUser("ben"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications status %d: %s", res.StatusCode, string(data))
	}
	var notifications []domain.Notification
	if err := json.Unmarshal(data, &notifications); err != nil {
		t.Fatalf("unmarshal notifications: %v", err)
	}
	if len(notifications) == 0 {
		t.Fatal("expected notifications for ben")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/notifications/"+notifications[0].ID+"/read", nil, asUser("ben"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mark read status %d: %s", res.StatusCode, string(data))
	}
	var read domain.Notification
	if err := json.Unmarshal(data, &read); err != nil {
		t.Fatal(err)
	}
	if !read.IsRead {
		t.Fatal("notification not marked read")
	}

	// another user cannot read ben's notification
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/notifications/"+notifications[0].ID+"/read", nil, asUser("ana"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign mark read status %d: %s", res.StatusCode, string(data))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests/sent", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status %d: %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "unauthorized" {
		t.Fatalf("anonymous code %q", e.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/missing/respond", map[string]any{
		"status": "accepted",
	}, asUser("ana"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing request status %d: %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "not_found" {
		t.Fatalf("missing request code %q", e.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests", map[string]any{
		"receiver_id":      "ben",
		"offered_skills":   []string{"go"},
		"requested_skills": []string{"piano"},
	}, asUser("ana"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request status %d: %s", res.StatusCode, string(data))
	}
	var req domain.Request
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatal(err)
	}

	// duplicate pending request
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests", map[string]any{
		"receiver_id":      "ben",
		"offered_skills":   []string{"go"},
		"requested_skills": []string{"piano"},
	}, asUser("ana"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status %d: %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "conflict" {
		t.Fatalf("duplicate code %q", e.Code)
	}

	// only the receiver may accept
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+req.ID+"/respond", map[string]any{
		"status": "accepted",
	}, asUser("ana"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("sender accept status %d: %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "forbidden" {
		t.Fatalf("sender accept code %q", e.Code)
	}

	// scheduling a request that is still pending
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{
		"request_id": req.ID,
		"date":       time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}, asUser("ben"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("premature schedule status %d: %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "precondition_failed" {
		t.Fatalf("premature schedule code %q", e.Code)
	}

	// invalid status value
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+req.ID+"/respond", map[string]any{
		"status": "bogus",
	}, asUser("ben"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status %d: %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "bad_request" {
		t.Fatalf("bogus status code %q", e.Code)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"user_id":      "cara",
		"display_name": "Cara",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("token: %v (%s)", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatal(err)
	}
	if me.UserID != "cara" || me.DisplayName != "Cara" {
		t.Fatalf("me = %+v", me)
	}

	// forged token is rejected
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged token status %d: %s", res.StatusCode, string(data))
	}
}

func TestReservedActorRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// no caller may act under the reconciliation sweep's id
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/notifications", nil, asUser("system"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("reserved header id status %d: %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "forbidden" {
		t.Fatalf("reserved header id code %q", e.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"user_id": "system",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("dev login for reserved id status %d: %s", res.StatusCode, string(data))
	}

	token, err := signDevToken("test-secret", "system", "", "", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("reserved jwt subject status %d: %s", res.StatusCode, string(data))
	}
}
