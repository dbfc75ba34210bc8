package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	core "github.com/samsaffron/groq-chat/internal/chat"
	apperr "github.com/samsaffron/groq-chat/internal/errors"
	"github.com/samsaffron/groq-chat/internal/llm"
)

type testServer struct {
	mgr  *SessionManager
	mock *llm.MockProvider
	http *httptest.Server
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	mock := llm.NewMockProvider("groq")
	factory := llm.NewFactory(nil, nil)
	factory.Register("groq", mock)
	opts.Client = core.NewClient(factory)
	mgr := NewSessionManager(opts)
	srv := httptest.NewServer(mgr.HTTPHandler())
	t.Cleanup(srv.Close)
	return &testServer{mgr: mgr, mock: mock, http: srv}
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) WireEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev WireEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

// readUntil collects events up to and including the first one matching stop.
func readUntil(t *testing.T, conn *websocket.Conn, stop func(WireEvent) bool) []WireEvent {
	t.Helper()
	var events []WireEvent
	for {
		ev := readEvent(t, conn)
		events = append(events, ev)
		if stop(ev) {
			return events
		}
	}
}

func isFinalPhase(ev WireEvent) bool {
	return ev.Type == EventPhaseChange && (ev.Phase == PhaseCompleted || ev.Phase == PhaseFailed || ev.Phase == PhaseCanceled)
}

func TestSessionRoundTrip(t *testing.T) {
	ts := newTestServer(t, Options{Credentials: map[string]string{"groq": "gsk-test"}})
	ts.mock.AddFragments("Hel", "lo", " **there**")

	conn := ts.dial(t, "/chat/sessions/new")
	ready := readEvent(t, conn)
	if ready.Type != EventSessionReady || ready.SessionID == "" {
		t.Fatalf("first event = %+v", ready)
	}
	if ready.Config == nil || !ready.Config.HasCredential || ready.Config.Model != "llama3-70b-8192" {
		t.Fatalf("config = %+v", ready.Config)
	}

	if err := conn.WriteJSON(ClientEvent{Type: ClientMessage, Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	events := readUntil(t, conn, isFinalPhase)

	var types, deltas []string
	var done WireEvent
	for _, ev := range events {
		types = append(types, ev.Type)
		switch ev.Type {
		case EventTextDelta:
			deltas = append(deltas, ev.Text)
		case EventMessageDone:
			done = ev
		}
	}
	wantTypes := []string{EventPhaseChange, EventPhaseChange, EventTextDelta, EventTextDelta, EventTextDelta, EventMessageDone, EventPhaseChange}
	if diff := cmp.Diff(wantTypes, types); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Hel", "lo", " **there**"}, deltas); diff != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", diff)
	}
	if done.Text != "Hello **there**" || !strings.Contains(done.HTML, "<strong>there</strong>") {
		t.Errorf("message_done = %+v", done)
	}
	if last := events[len(events)-1]; last.Phase != PhaseCompleted {
		t.Errorf("final phase = %q", last.Phase)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq != events[i-1].Seq+1 {
			t.Fatalf("non-monotonic seq: %d then %d", events[i-1].Seq, events[i].Seq)
		}
	}

	req, ok := ts.mock.LastRequest()
	if !ok {
		t.Fatal("no request recorded")
	}
	if diff := cmp.Diff([]llm.Message{llm.UserText("hi")}, req.Messages); diff != "" {
		t.Errorf("request messages mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionMissingCredential(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.mock.AddTextResponse("never")

	conn := ts.dial(t, "/chat/sessions/new")
	if ready := readEvent(t, conn); ready.Config.HasCredential {
		t.Fatal("session should start without a credential")
	}
	_ = conn.WriteJSON(ClientEvent{Type: ClientMessage, Text: "hi"})

	events := readUntil(t, conn, func(ev WireEvent) bool { return ev.Type == EventError })
	if got := events[len(events)-1].Code; got != "missing_credential" {
		t.Errorf("code = %q, want missing_credential", got)
	}
	if ts.mock.CallCount() != 0 {
		t.Errorf("provider called %d times", ts.mock.CallCount())
	}

	_ = conn.WriteJSON(ClientEvent{Type: ClientSetCredential, Credential: " gsk-late "})
	cfg := readUntil(t, conn, func(ev WireEvent) bool { return ev.Type == EventConfig })
	if !cfg[len(cfg)-1].Config.HasCredential {
		t.Error("credential not applied")
	}
}

func TestSessionInterrupt(t *testing.T) {
	ts := newTestServer(t, Options{Credentials: map[string]string{"groq": "gsk-test"}})
	fragments := make([]string, 200)
	for i := range fragments {
		fragments[i] = "x"
	}
	ts.mock.AddTurn(llm.MockTurn{Fragments: fragments, Delay: 20 * time.Millisecond})

	conn := ts.dial(t, "/chat/sessions/new")
	ready := readEvent(t, conn)
	_ = conn.WriteJSON(ClientEvent{Type: ClientMessage, Text: "long story"})
	readUntil(t, conn, func(ev WireEvent) bool { return ev.Type == EventTextDelta })
	_ = conn.WriteJSON(ClientEvent{Type: ClientInterrupt})

	events := readUntil(t, conn, isFinalPhase)
	if last := events[len(events)-1]; last.Phase != PhaseCanceled {
		t.Fatalf("final phase = %q, want canceled", last.Phase)
	}

	sess, ok := ts.mgr.Get(ready.SessionID)
	if !ok {
		t.Fatal("session not registered")
	}
	// Only the user turn survives a canceled reply.
	transcript := sess.Chat().Transcript()
	if len(transcript) != 1 || transcript[0].Role != llm.RoleUser {
		t.Errorf("transcript = %+v", transcript)
	}
}

func TestSessionStreamFailureCommitted(t *testing.T) {
	ts := newTestServer(t, Options{Credentials: map[string]string{"groq": "gsk-test"}})
	ts.mock.AddError(errors.New("connection reset"), "Par")

	conn := ts.dial(t, "/chat/sessions/new")
	readEvent(t, conn)
	_ = conn.WriteJSON(ClientEvent{Type: ClientMessage, Text: "hi"})

	events := readUntil(t, conn, isFinalPhase)
	var errEv, done WireEvent
	for _, ev := range events {
		switch ev.Type {
		case EventError:
			errEv = ev
		case EventMessageDone:
			done = ev
		}
	}
	if errEv.Code != "stream" {
		t.Errorf("error code = %q, want stream", errEv.Code)
	}
	if done.Text != "Error: connection reset" {
		t.Errorf("committed text = %q", done.Text)
	}
	if last := events[len(events)-1]; last.Phase != PhaseFailed {
		t.Errorf("final phase = %q", last.Phase)
	}
}

func TestSessionSettings(t *testing.T) {
	ts := newTestServer(t, Options{})
	conn := ts.dial(t, "/chat/sessions/new")
	readEvent(t, conn)

	isConfigOrError := func(ev WireEvent) bool { return ev.Type == EventConfig || ev.Type == EventError }

	_ = conn.WriteJSON(ClientEvent{Type: ClientSetMaxTokens, MaxTokens: 100})
	ev := readUntil(t, conn, isConfigOrError)
	if got := ev[len(ev)-1].Config.MaxTokens; got != 512 {
		t.Errorf("max tokens = %d, want clamp to 512", got)
	}

	temp := 3.0
	_ = conn.WriteJSON(ClientEvent{Type: ClientSetTemperature, Temperature: &temp})
	ev = readUntil(t, conn, isConfigOrError)
	if got := ev[len(ev)-1].Config.Temperature; got != 1 {
		t.Errorf("temperature = %v, want 1", got)
	}

	_ = conn.WriteJSON(ClientEvent{Type: ClientSelectModel, Model: "mixtral-8x7b-32768"})
	ev = readUntil(t, conn, isConfigOrError)
	if got := ev[len(ev)-1].Config; got == nil || got.Model != "mixtral-8x7b-32768" {
		t.Errorf("config after select = %+v", got)
	}

	_ = conn.WriteJSON(ClientEvent{Type: ClientSelectModel, Model: "gpt-99"})
	ev = readUntil(t, conn, isConfigOrError)
	if got := ev[len(ev)-1]; got.Type != EventError || got.Code != "not_found" {
		t.Errorf("unknown model event = %+v", got)
	}

	_ = conn.WriteJSON(ClientEvent{Type: "bogus"})
	ev = readUntil(t, conn, isConfigOrError)
	if got := ev[len(ev)-1]; got.Type != EventError || got.Code != "validation" {
		t.Errorf("unknown event = %+v", got)
	}
}

func TestSessionResumeAndExport(t *testing.T) {
	ts := newTestServer(t, Options{Credentials: map[string]string{"groq": "gsk-test"}})
	ts.mock.AddFragments("Hello!")

	conn := ts.dial(t, "/chat/sessions/new")
	ready := readEvent(t, conn)
	_ = conn.WriteJSON(ClientEvent{Type: ClientMessage, Text: "hi"})
	events := readUntil(t, conn, isFinalPhase)
	conn.Close()

	resumed := ts.dial(t, "/chat/sessions/"+ready.SessionID+"?since=1")
	again := readEvent(t, resumed)
	if again.Type != EventSessionReady || again.SessionID != ready.SessionID {
		t.Fatalf("resume event = %+v", again)
	}
	wantHistory := []HistoryItem{
		{Role: "user", Text: "hi"},
		{Role: "assistant", Text: "Hello!", HTML: "<p>Hello!</p>\n"},
	}
	if diff := cmp.Diff(wantHistory, again.History); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	catchup := readEvent(t, resumed)
	if catchup.Type != EventCatchup || len(catchup.Events) != len(events)-1 {
		t.Fatalf("catchup = %+v, want %d events", catchup, len(events)-1)
	}
	if catchup.Events[0].Seq != 2 {
		t.Errorf("first replayed seq = %d, want 2", catchup.Events[0].Seq)
	}

	resp, err := http.Get(ts.http.URL + "/chat/sessions/" + ready.SessionID + "/export")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, `attachment; filename="chat-llama3-70b-8192-`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	var snap core.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	want := []core.SnapshotMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "Hello!"}}
	if diff := cmp.Diff(want, snap.Messages); diff != "" {
		t.Errorf("snapshot messages mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionNotFound(t *testing.T) {
	ts := newTestServer(t, Options{})
	resp, err := http.Get(ts.http.URL + "/chat/sessions/nope/export")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, Options{Token: "s3cret"})

	resp, err := http.Get(ts.http.URL + "/chat/sessions")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.http.URL+"/chat/sessions", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("bearer status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.http.URL + "/chat/sessions?token=s3cret")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("query token status = %d", resp.StatusCode)
	}
}

func TestGCSessions(t *testing.T) {
	ts := newTestServer(t, Options{})
	now := time.Date(2024, 4, 20, 15, 30, 0, 0, time.UTC)
	ts.mgr.now = func() time.Time { return now }

	sess, err := ts.mgr.newSession()
	if err != nil {
		t.Fatal(err)
	}
	if n := ts.mgr.gcSessions(); n != 0 {
		t.Fatalf("collected fresh session")
	}
	now = now.Add(31 * time.Minute)
	if n := ts.mgr.gcSessions(); n != 1 {
		t.Fatalf("collected %d sessions, want 1", n)
	}
	if _, ok := ts.mgr.Get(sess.ID); ok {
		t.Error("session still registered")
	}
}

func TestErrorEvent(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{apperr.ModelNotFound("x", nil), "not_found"},
		{apperr.EmptyInput(), "validation"},
		{apperr.MissingCredential("groq"), "missing_credential"},
		{apperr.Busy("chat.Converse"), "busy"},
		{&apperr.StreamError{Cause: errors.New("boom")}, "stream"},
		{apperr.Canceled(errors.New("stop")), "canceled"},
		{errors.New("plain"), "unknown"},
	}
	for _, tc := range tests {
		ev := ErrorEvent(tc.err)
		if ev.Type != EventError || ev.Code != tc.code || ev.Message == "" {
			t.Errorf("ErrorEvent(%v) = %+v, want code %s", tc.err, ev, tc.code)
		}
	}

	if got := PhaseFor(nil); got != PhaseCompleted {
		t.Errorf("PhaseFor(nil) = %q", got)
	}
	if got := PhaseFor(apperr.Canceled(errors.New("stop"))); got != PhaseCanceled {
		t.Errorf("PhaseFor(canceled) = %q", got)
	}
	if got := PhaseFor(errors.New("x")); got != PhaseFailed {
		t.Errorf("PhaseFor(other) = %q", got)
	}
}

func TestCrossOriginRefusedWithoutToken(t *testing.T) {
	ts := newTestServer(t, Options{Credentials: map[string]string{"groq": "gsk-test"}})
	ts.mock.AddFragments("secret reply")
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/chat/sessions/new"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("cross-origin upgrade succeeded")
	}
	if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("err = %v, resp = %+v, want 403 bad handshake", err, resp)
	}
	eventually(t, func() bool {
		ts.mgr.mu.RLock()
		defer ts.mgr.mu.RUnlock()
		return len(ts.mgr.sessions) == 0
	}, "refused upgrade left a session behind")

	same := http.Header{"Origin": []string{ts.http.URL}}
	conn, _, err = websocket.DefaultDialer.Dial(url, same)
	if err != nil {
		t.Fatalf("same-origin dial: %v", err)
	}
	defer conn.Close()
	if ev := readEvent(t, conn); ev.Type != EventSessionReady {
		t.Fatalf("first event = %+v", ev)
	}
}

func TestCrossOriginAllowedWithToken(t *testing.T) {
	ts := newTestServer(t, Options{Token: "s3cret"})
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/chat/sessions/new?token=s3cret"

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://elsewhere.example"}})
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	defer conn.Close()
	if ev := readEvent(t, conn); ev.Type != EventSessionReady {
		t.Fatalf("first event = %+v", ev)
	}
}

func TestTokenEqual(t *testing.T) {
	tests := []struct {
		got, want string
		ok        bool
	}{
		{"s3cret", "s3cret", true},
		{"s3cre", "s3cret", false},
		{"S3CRET", "s3cret", false},
		{"", "s3cret", false},
	}
	for _, tt := range tests {
		if ok := tokenEqual(tt.got, tt.want); ok != tt.ok {
			t.Errorf("tokenEqual(%q, %q) = %v, want %v", tt.got, tt.want, ok, tt.ok)
		}
	}
}

func TestEventBufferKeepsOnlyCurrentTurn(t *testing.T) {
	ts := newTestServer(t, Options{Credentials: map[string]string{"groq": "gsk-test"}})
	ts.mock.AddFragments("one").AddFragments("two")

	conn := ts.dial(t, "/chat/sessions/new")
	ready := readEvent(t, conn)
	_ = conn.WriteJSON(ClientEvent{Type: ClientMessage, Text: "first"})
	first := readUntil(t, conn, isFinalPhase)
	sess, ok := ts.mgr.Get(ready.SessionID)
	if !ok {
		t.Fatal("session missing")
	}
	eventually(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.cancelStream == nil
	}, "first stream never finished")
	_ = conn.WriteJSON(ClientEvent{Type: ClientMessage, Text: "second"})
	second := readUntil(t, conn, isFinalPhase)
	conn.Close()

	sess.mu.Lock()
	buffered := len(sess.EventBuf)
	sess.mu.Unlock()
	if buffered != len(second) {
		t.Errorf("buffered %d events, want %d from the last turn", buffered, len(second))
	}

	resumed := ts.dial(t, "/chat/sessions/"+ready.SessionID+"?since=0")
	again := readEvent(t, resumed)
	if len(again.History) != 4 {
		t.Fatalf("history has %d items, want 4", len(again.History))
	}
	catchup := readEvent(t, resumed)
	if catchup.Type != EventCatchup || len(catchup.Events) != len(second) {
		t.Fatalf("catchup = %+v, want %d events", catchup, len(second))
	}
	if got, want := catchup.Events[0].Seq, first[len(first)-1].Seq+1; got != want {
		t.Errorf("first replayed seq = %d, want %d", got, want)
	}
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
