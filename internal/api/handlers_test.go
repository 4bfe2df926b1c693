package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"foliochat/internal/auth"
	"foliochat/internal/models"
	"foliochat/internal/ratelimit"
	"foliochat/internal/service/ai"
	"foliochat/internal/service/assistant"
	"foliochat/internal/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type generateCall struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// stubOllama answers generate requests with the configured status and body.
type stubOllama struct {
	srv    *httptest.Server
	status int
	body   string
	calls  chan generateCall
}

func newStubOllama(t *testing.T, status int, body string) *stubOllama {
	t.Helper()
	stub := &stubOllama{status: status, body: body, calls: make(chan generateCall, 64)}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call generateCall
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &call)
		select {
		case stub.calls <- call:
		default:
		}
		w.WriteHeader(stub.status)
		_, _ = io.WriteString(w, stub.body)
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

// nextCall waits for a generate request matching the probe prompt or not.
func (s *stubOllama) nextCall(t *testing.T, probe bool) generateCall {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case call := <-s.calls:
			if (call.Prompt == ai.ProbePrompt) == probe {
				return call
			}
		case <-deadline:
			t.Fatalf("no %s request received", map[bool]string{true: "probe", false: "generate"}[probe])
		}
	}
}

type serverOptions struct {
	limiter     ratelimit.Limiter
	maxSessions int
	tokenTTL    time.Duration
}

func newTestServer(t *testing.T, stub *stubOllama, opts serverOptions) (*gin.Engine, *Handler) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{MinWorkers: 1, MaxWorkers: 4, QueueSize: 16}, logger)
	t.Cleanup(dispatcher.Stop)

	client := ai.NewClient(stub.srv.Client(), logger)
	defaults := models.DefaultEndpointConfig()
	defaults.Endpoint = stub.srv.URL
	tokenTTL := opts.tokenTTL
	if tokenTTL == 0 {
		tokenTTL = time.Hour
	}
	authService := auth.NewService(auth.NewMemoryTokenStore(), tokenTTL)
	svc := assistant.NewService(assistant.Options{
		Prober: ai.NewProber(client, time.Second),
		NewModel: func(ctx context.Context, cfg models.EndpointConfig) (model.BaseChatModel, error) {
			return ai.NewChatModel(ctx, cfg, client)
		},
		Executor:       dispatcher,
		Logger:         logger,
		RequestTimeout: 2 * time.Second,
		MaxSessions:    opts.maxSessions,
		DefaultConfig:  defaults,
		DefaultLocale:  assistant.LocaleFrench,
		OnSessionClosed: func(id string) {
			_ = authService.RevokeSession(context.Background(), id)
		},
	})
	handler := NewHandler(svc, authService, opts.limiter, logger, nil)
	router := gin.New()
	router.Use(RequestLogger(logger))
	handler.RegisterRoutes(router)
	return router, handler
}

type createdSession struct {
	Session   models.Snapshot `json:"session"`
	Token     string          `json:"token"`
	CSRFToken string          `json:"csrf_token"`
}

func createSession(t *testing.T, router *gin.Engine, body interface{}, headers map[string]string) (createdSession, map[string]string) {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions", body, headers)
	assertStatus(t, resp, http.StatusCreated)
	var created createdSession
	decodeJSON(t, resp.Body.Bytes(), &created)
	if created.Token == "" || created.Session.ID == "" {
		t.Fatalf("expected token and session id, got %s", resp.Body.String())
	}
	return created, map[string]string{"Authorization": "Bearer " + created.Token}
}

func TestHandlersEndToEndFlow(t *testing.T) {
	stub := newStubOllama(t, http.StatusOK, `{"response":"Hi there"}`)
	router, _ := newTestServer(t, stub, serverOptions{})

	modelsResp := doJSONRequest(t, router, http.MethodGet, "/api/models", nil, nil)
	assertStatus(t, modelsResp, http.StatusOK)
	var modelsBody struct {
		Models  []string              `json:"models"`
		Custom  string                `json:"custom"`
		Default models.EndpointConfig `json:"default"`
	}
	decodeJSON(t, modelsResp.Body.Bytes(), &modelsBody)
	if modelsBody.Custom != models.CustomModelSentinel || modelsBody.Default.Model != models.DefaultModel {
		t.Fatalf("unexpected models payload: %s", modelsResp.Body.String())
	}

	created, authHeader := createSession(t, router, nil, map[string]string{"Accept-Language": "en-US,en;q=0.8"})
	if created.Session.Locale != assistant.LocaleEnglish {
		t.Fatalf("expected negotiated locale en, got %s", created.Session.Locale)
	}
	if len(created.Session.Conversation) != 1 {
		t.Fatalf("expected seeded conversation, got %d turns", len(created.Session.Conversation))
	}
	stub.nextCall(t, true)
	path := "/api/sessions/" + created.Session.ID

	sendResp := doJSONRequest(t, router, http.MethodPost, path+"/messages", map[string]string{"content": "Hello"}, authHeader)
	assertStatus(t, sendResp, http.StatusOK)
	var sendBody struct {
		UserTurn models.Turn     `json:"user_turn"`
		Reply    models.Turn     `json:"reply"`
		Failed   bool            `json:"failed"`
		Session  models.Snapshot `json:"session"`
	}
	decodeJSON(t, sendResp.Body.Bytes(), &sendBody)
	if sendBody.Failed || sendBody.Reply.Content != "Hi there" || sendBody.UserTurn.Content != "Hello" {
		t.Fatalf("unexpected reply: %s", sendResp.Body.String())
	}
	if len(sendBody.Session.Conversation) != 3 || sendBody.Session.Loading {
		t.Fatalf("unexpected session after reply: %+v", sendBody.Session)
	}
	call := stub.nextCall(t, false)
	if !strings.HasSuffix(call.Prompt, "\n\nHuman: Hello\n\nAssistant:") {
		t.Fatalf("unexpected prompt %q", call.Prompt)
	}

	cfgResp := doJSONRequest(t, router, http.MethodPut, path+"/config", map[string]any{
		"model":        models.CustomModelSentinel,
		"custom_model": "my-model:latest",
		"temperature":  0.3,
	}, authHeader)
	assertStatus(t, cfgResp, http.StatusOK)
	var cfgBody struct {
		Session models.Snapshot `json:"session"`
	}
	decodeJSON(t, cfgResp.Body.Bytes(), &cfgBody)
	if cfgBody.Session.Config.Model != "my-model:latest" || len(cfgBody.Session.Conversation) != 4 {
		t.Fatalf("unexpected session after config update: %s", cfgResp.Body.String())
	}
	if probe := stub.nextCall(t, true); probe.Model != "my-model:latest" {
		t.Fatalf("probe used model %q", probe.Model)
	}

	testResp := doJSONRequest(t, router, http.MethodPost, path+"/probe", map[string]string{"model": "phi3"}, authHeader)
	assertStatus(t, testResp, http.StatusOK)
	var testBody assistant.ProbeResult
	decodeJSON(t, testResp.Body.Bytes(), &testBody)
	if !testBody.OK || testBody.Model != "phi3" {
		t.Fatalf("unexpected probe result: %s", testResp.Body.String())
	}

	reprobeResp := doJSONRequest(t, router, http.MethodPost, path+"/probe", nil, authHeader)
	assertStatus(t, reprobeResp, http.StatusOK)
	var reprobeBody struct {
		Session models.Snapshot `json:"session"`
	}
	decodeJSON(t, reprobeResp.Body.Bytes(), &reprobeBody)
	if reprobeBody.Session.Status != models.StatusConnected || reprobeBody.Session.Config.Model != "my-model:latest" {
		t.Fatalf("unexpected reprobe result: %s", reprobeResp.Body.String())
	}

	delResp := doJSONRequest(t, router, http.MethodDelete, path, nil, authHeader)
	assertStatus(t, delResp, http.StatusNoContent)
	getResp := doJSONRequest(t, router, http.MethodGet, path, nil, authHeader)
	assertStatus(t, getResp, http.StatusUnauthorized)
}

func TestActiveSessionOutlivesTokenTTL(t *testing.T) {
	stub := newStubOllama(t, http.StatusOK, `{"response":"ok"}`)
	router, _ := newTestServer(t, stub, serverOptions{tokenTTL: 300 * time.Millisecond})
	created, authHeader := createSession(t, router, nil, nil)
	path := "/api/sessions/" + created.Session.ID + "/messages"

	for i := 0; i < 6; i++ {
		time.Sleep(100 * time.Millisecond)
		resp := doJSONRequest(t, router, http.MethodPost, path, map[string]string{"content": "still here"}, authHeader)
		assertStatus(t, resp, http.StatusOK)
	}

	time.Sleep(400 * time.Millisecond)
	resp := doJSONRequest(t, router, http.MethodGet, "/api/sessions/"+created.Session.ID, nil, authHeader)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestClosedSessionRevokesToken(t *testing.T) {
	stub := newStubOllama(t, http.StatusOK, `{"response":"ok"}`)
	router, handler := newTestServer(t, stub, serverOptions{})
	created, authHeader := createSession(t, router, nil, nil)
	path := "/api/sessions/" + created.Session.ID

	assertStatus(t, doJSONRequest(t, router, http.MethodGet, path, nil, authHeader), http.StatusOK)
	if err := handler.assistant.DeleteSession(created.Session.ID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, path, nil, authHeader), http.StatusUnauthorized)
}

func TestSendMessageFailureScenario(t *testing.T) {
	stub := newStubOllama(t, http.StatusNotFound, "model not found")
	router, _ := newTestServer(t, stub, serverOptions{})
	created, authHeader := createSession(t, router, map[string]string{"locale": "fr"}, nil)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions/"+created.Session.ID+"/messages",
		map[string]string{"content": "Hello"}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Failed     bool            `json:"failed"`
		Diagnostic string          `json:"diagnostic"`
		Reply      models.Turn     `json:"reply"`
		Session    models.Snapshot `json:"session"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if !body.Failed || !strings.Contains(body.Diagnostic, "404") || !strings.Contains(body.Diagnostic, "model not found") {
		t.Fatalf("unexpected failure payload: %s", resp.Body.String())
	}
	if !strings.HasPrefix(body.Reply.Content, "Désolé") {
		t.Fatalf("expected localized fallback turn, got %q", body.Reply.Content)
	}
	if len(body.Session.Conversation) != 3 || body.Session.Loading {
		t.Fatalf("unexpected session: %+v", body.Session)
	}
}

func TestSessionRequestValidation(t *testing.T) {
	stub := newStubOllama(t, http.StatusOK, `{"response":"ok"}`)
	router, _ := newTestServer(t, stub, serverOptions{})
	created, authHeader := createSession(t, router, nil, nil)
	path := "/api/sessions/" + created.Session.ID

	cases := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"blank message", http.MethodPost, path + "/messages", map[string]string{"content": "   "}, http.StatusBadRequest},
		{"malformed message", http.MethodPost, path + "/messages", "not an object", http.StatusBadRequest},
		{"empty custom model", http.MethodPut, path + "/config", map[string]string{"model": models.CustomModelSentinel}, http.StatusBadRequest},
		{"temperature out of range", http.MethodPut, path + "/config", map[string]any{"temperature": 2}, http.StatusBadRequest},
		{"other session", http.MethodGet, "/api/sessions/not-mine", nil, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSONRequest(t, router, tc.method, tc.path, tc.body, authHeader)
			assertStatus(t, resp, tc.status)
		})
	}

	resp := doJSONRequest(t, router, http.MethodGet, path, nil, nil)
	assertStatus(t, resp, http.StatusUnauthorized)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/sessions", "[]", nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestCookieSessionRequiresCSRF(t *testing.T) {
	stub := newStubOllama(t, http.StatusOK, `{"response":"ok"}`)
	router, handler := newTestServer(t, stub, serverOptions{})

	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions", nil, nil)
	assertStatus(t, resp, http.StatusCreated)
	var created createdSession
	decodeJSON(t, resp.Body.Bytes(), &created)
	cookies := resp.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected auth and csrf cookies, got %d", len(cookies))
	}

	send := func(csrfHeader string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+created.Session.ID+"/messages",
			strings.NewReader(`{"content":"hi"}`))
		req.Header.Set("Content-Type", "application/json")
		for _, ck := range cookies {
			req.AddCookie(ck)
		}
		if csrfHeader != "" {
			req.Header.Set(handler.auth.CSRFHeaderName(), csrfHeader)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}
	assertStatus(t, send(""), http.StatusForbidden)
	assertStatus(t, send(created.CSRFToken), http.StatusOK)
}

func TestCreateSessionLimits(t *testing.T) {
	stub := newStubOllama(t, http.StatusOK, `{"response":"ok"}`)

	router, _ := newTestServer(t, stub, serverOptions{limiter: ratelimit.NewMemoryLimiter(1, time.Minute)})
	createSession(t, router, nil, nil)
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/sessions", nil, nil), http.StatusTooManyRequests)

	router, _ = newTestServer(t, stub, serverOptions{maxSessions: 1})
	createSession(t, router, nil, nil)
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/sessions", nil, nil), http.StatusTooManyRequests)

	health := doJSONRequest(t, router, http.MethodGet, "/api/health", nil, nil)
	assertStatus(t, health, http.StatusOK)
	var healthBody struct {
		Sessions int `json:"sessions"`
	}
	decodeJSON(t, health.Body.Bytes(), &healthBody)
	if healthBody.Sessions != 1 {
		t.Fatalf("expected 1 active session, got %d", healthBody.Sessions)
	}
}

func TestEventsStreamSnapshots(t *testing.T) {
	stub := newStubOllama(t, http.StatusOK, `{"response":"Hi there"}`)
	router, _ := newTestServer(t, stub, serverOptions{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	created, authHeader := createSession(t, router, nil, nil)
	wsURL := fmt.Sprintf("ws%s/api/sessions/%s/events?token=%s", strings.TrimPrefix(srv.URL, "http"), created.Session.ID, created.Token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	var snap models.Snapshot
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if snap.ID != created.Session.ID {
		t.Fatalf("snapshot for wrong session: %s", snap.ID)
	}

	resp := doJSONRequest(t, router, http.MethodPost, "/api/sessions/"+created.Session.ID+"/messages",
		map[string]string{"content": "Hello"}, authHeader)
	assertStatus(t, resp, http.StatusOK)

	for len(snap.Conversation) < 3 || snap.Loading {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
	}
	if snap.Conversation[2].Content != "Hi there" {
		t.Fatalf("unexpected final turn %q", snap.Conversation[2].Content)
	}

	assertStatus(t, doJSONRequest(t, router, http.MethodDelete, "/api/sessions/"+created.Session.ID, nil, authHeader), http.StatusNoContent)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if err := conn.ReadJSON(&snap); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("expected normal close, got %v", err)
			}
			return
		}
	}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
