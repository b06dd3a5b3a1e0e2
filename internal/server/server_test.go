package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"hoccoo/internal/config"
	"hoccoo/internal/db"
	"hoccoo/internal/engine"
	"hoccoo/internal/events"
	"hoccoo/internal/logger"
	"hoccoo/internal/migrate"
	"hoccoo/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	Events events.Writer
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	w := events.Writer{DB: conn}
	e := engine.New(repo.Repo{DB: conn}, w, config.Default())
	e.Logger = logger.Discard()
	if _, err := e.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	handler, err := New(Config{Engine: e, Events: &w, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret, Logger: logger.Discard()}})
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
		Events: w,
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

func login(t *testing.T, srv *testServer, user string) (map[string]string, LoginResponse) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"user":     user,
		"password": "Suwarika",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}, out
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

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/hand", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/hand", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{"user": "alice", "password": "wrong"}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d %s", res.StatusCode, string(data))
	}
}

func TestLoginReturnsHand(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers, out := login(t, srv, "alice")
	if out.User != "alice" || len(out.Hand) != 5 {
		t.Fatalf("unexpected login response: %+v", out)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/hand", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("hand status %d: %s", res.StatusCode, string(data))
	}
	var hand HandResponse
	_ = json.Unmarshal(data, &hand)
	if len(hand.Items) != 5 || hand.Items[0].ID != out.Hand[0].ID {
		t.Fatalf("expected the login hand, got %+v", hand.Items)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/hand/pull", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pull status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &hand)
	if len(hand.Items) != 5 || hand.Items[0].ID == out.Hand[0].ID {
		t.Fatalf("expected a fresh hand after pull")
	}
}

func TestPostCompletesQuest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	headers, out := login(t, srv, "alice")
	target := out.Hand[0]
	action, _ := srv.Engine.Config.Actions.Lookup(target.ActionKey)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/posts", map[string]any{
		"type":      "share",
		"with_whom": target.TargetPersonID,
		"body":      action.Keywords[0] + "しました",
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("post status %d: %s", res.StatusCode, string(data))
	}
	var result PostResultResponse
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal post result: %v", err)
	}
	if result.Completed == nil || result.Completed.ID != target.ID || result.Awarded != target.Points {
		t.Fatalf("expected quest %s completed, got %+v", target.ID, result)
	}
	if len(result.Hand) != 5 {
		t.Fatalf("expected hand of 5, got %d", len(result.Hand))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me MeResponse
	_ = json.Unmarshal(data, &me)
	if me.User != "alice" || me.Points != target.Points || me.Rank != 1 {
		t.Fatalf("unexpected me: %+v", me)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/posts?limit=1", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("posts status %d: %s", res.StatusCode, string(data))
	}
	var posts PostsResponse
	_ = json.Unmarshal(data, &posts)
	if len(posts.Items) != 1 || posts.Items[0].ID != result.Post.ID {
		t.Fatalf("expected newest post first, got %+v", posts.Items)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/leaderboard", nil, headers)
	var board LeaderboardResponse
	_ = json.Unmarshal(data, &board)
	if res.StatusCode != http.StatusOK || len(board.Items) != 1 || board.Items[0].User != "alice" {
		t.Fatalf("unexpected leaderboard %d %s", res.StatusCode, string(data))
	}
}

func TestPostValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers, _ := login(t, srv, "alice")
	for _, body := range []map[string]any{
		{"body": "   "},
		{"body": "hi", "with_whom": "p_missing"},
	} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/posts", body, headers)
		if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "bad_request" {
			t.Fatalf("body %v: expected 400, got %d %s", body, res.StatusCode, string(data))
		}
	}
}

func TestPeopleLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	headers, _ := login(t, srv, "alice")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/people", map[string]any{"dept": "経理", "name": "山本"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add person status %d: %s", res.StatusCode, string(data))
	}
	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/people", nil, headers)
	var people PeopleResponse
	_ = json.Unmarshal(data, &people)
	if res.StatusCode != http.StatusOK || len(people.Items) != 6 || people.Items[0].ID != created.ID {
		t.Fatalf("expected new person first, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/people/"+created.ID, nil, headers)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/people/"+created.ID, nil, headers)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestRewardsDraw(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers, _ := login(t, srv, "alice")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/rewards/draw", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("draw status %d: %s", res.StatusCode, string(data))
	}
	var out RewardsResponse
	_ = json.Unmarshal(data, &out)
	total := 0
	for _, n := range out.Tally {
		total += n
	}
	if len(out.Items) != 5 || total != 5 {
		t.Fatalf("expected 5 draws, got %+v", out)
	}
}

func TestEventsFeed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers, _ := login(t, srv, "alice")
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/hand/pull", nil, headers)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?type=hand.pulled", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var out paginatedEvents
	_ = json.Unmarshal(data, &out)
	if len(out.Items) != 1 || out.Items[0].ActorID != "alice" {
		t.Fatalf("expected one hand.pulled event, got %s", string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", res.StatusCode)
	}
}

func TestOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	for _, want := range []string{"/v0/posts", "/v0/hand/pull", "bearerAuth"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("openapi missing %q", want)
		}
	}
}

func TestOpenAPIConcurrentFetch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const n = 8
	bodies := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("fetch %d: %v", i, errs[i])
		}
		if len(bodies[i]) == 0 || !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("fetch %d returned a different document", i)
		}
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(Config{Engine: engine.New(repo.NewMemory(), nil, config.Default())}); err == nil {
		t.Fatalf("expected error without jwt secret")
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var (
		mu       sync.Mutex
		received []webhookEvent
		sigs     []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		_ = json.Unmarshal(body, &evt)
		mu.Lock()
		received = append(received, evt)
		sigs = append(sigs, r.Header.Get("X-Hoccoo-Signature")+"|"+sign("s3cret", body))
		mu.Unlock()
	}))
	defer hook.Close()

	d := newWebhookDispatcher(srv.Events, []config.WebhookConfig{{URL: hook.URL, Secret: "s3cret", Events: []string{"hand.pulled"}}}, logger.Discard())
	ctx := context.Background()
	d.dispatchAll(ctx)

	if _, err := srv.Engine.Login(ctx, "alice", "Suwarika"); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.Engine.Pull(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Type != events.HandPulled {
		t.Fatalf("expected one hand.pulled delivery, got %+v", received)
	}
	parts := strings.SplitN(sigs[0], "|", 2)
	if parts[0] != "sha256="+parts[1] {
		t.Fatalf("signature mismatch: %s", sigs[0])
	}
}

func TestWebhookSkipsEventAfterRepeatedFailures(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var (
		mu        sync.Mutex
		delivered []int64
		failID    int64
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		defer mu.Unlock()
		if failID == 0 {
			failID = evt.ID
		}
		if evt.ID == failID {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		delivered = append(delivered, evt.ID)
	}))
	defer hook.Close()

	d := newWebhookDispatcher(srv.Events, []config.WebhookConfig{{URL: hook.URL, Events: []string{"hand.pulled"}}}, logger.Discard())
	d.attempts = 3
	ctx := context.Background()
	d.dispatchAll(ctx)

	if _, err := srv.Engine.Login(ctx, "alice", "Suwarika"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := srv.Engine.Pull(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < d.attempts-1; i++ {
		d.dispatchAll(ctx)
	}
	mu.Lock()
	if len(delivered) != 0 {
		mu.Unlock()
		t.Fatalf("expected later events held behind the failing one, got %v", delivered)
	}
	mu.Unlock()

	d.dispatchAll(ctx)
	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] == failID {
		t.Fatalf("expected the next event delivered after skipping %d, got %v", failID, delivered)
	}
}
