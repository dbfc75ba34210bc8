package chat

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samsaffron/groq-chat/internal/catalog"
	core "github.com/samsaffron/groq-chat/internal/chat"
	apperr "github.com/samsaffron/groq-chat/internal/errors"
	"github.com/samsaffron/groq-chat/internal/llm"
	"github.com/samsaffron/groq-chat/internal/render"
	"go.uber.org/zap"
)

const (
	sessionTTL = 30 * time.Minute
	gcInterval = 5 * time.Minute
)

// Options configures a SessionManager.
type Options struct {
	// Token, when set, is required as a bearer token or ?token= parameter.
	Token   string
	Catalog *catalog.Catalog
	Client  *core.Client
	// Credentials seeds every new session, keyed by provider name.
	Credentials    map[string]string
	SessionOptions []core.Option
	Logger         *zap.Logger
}

// RemoteSession tracks a remote WebSocket chat session.
type RemoteSession struct {
	ID           string
	EventBuf     []WireEvent
	NextSeq      int64
	LastActiveAt time.Time

	chat         *core.Session
	mu           sync.Mutex
	writeMu      sync.Mutex
	conn         *websocket.Conn
	cancelStream context.CancelFunc
	streamDone   chan struct{}
}

// Chat returns the conversation behind the remote session.
func (s *RemoteSession) Chat() *core.Session {
	return s.chat
}

// SessionManager manages active remote chat sessions.
type SessionManager struct {
	sessions map[string]*RemoteSession
	mu       sync.RWMutex
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionManager creates a session manager using the supplied options.
func NewSessionManager(opts Options) *SessionManager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	return &SessionManager{
		sessions: make(map[string]*RemoteSession),
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// HTTPHandler returns an http.Handler for the chat endpoints.
func (m *SessionManager) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/sessions", m.auth(m.handleListSessions))
	mux.HandleFunc("/chat/sessions/new", m.auth(m.handleNewSession))
	mux.HandleFunc("/chat/sessions/", m.auth(m.handleSession))
	return mux
}

// Authorized reports whether r carries the configured token.
func (m *SessionManager) Authorized(r *http.Request) bool {
	token := strings.TrimSpace(m.opts.Token)
	if token == "" {
		return true
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return tokenEqual(q, token)
	}
	value := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	return tokenEqual(strings.TrimSpace(strings.TrimPrefix(value, prefix)), token)
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// checkOrigin accepts any origin when a token guards the API. Without one,
// only pages served from this host (or clients sending no Origin) may open a
// session, since sessions carry the configured provider keys.
func (m *SessionManager) checkOrigin(r *http.Request) bool {
	if strings.TrimSpace(m.opts.Token) != "" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// StartGC starts background GC for inactive sessions.
func (m *SessionManager) StartGC(ctx context.Context) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.gcSessions()
		case <-ctx.Done():
			return
		}
	}
}

// gcSessions drops sessions that are disconnected, idle and past the TTL.
func (m *SessionManager) gcSessions() int {
	cutoff := m.now().Add(-sessionTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, sess := range m.sessions {
		sess.mu.Lock()
		inactive := sess.LastActiveAt.Before(cutoff)
		streaming := sess.cancelStream != nil
		connected := sess.conn != nil
		sess.mu.Unlock()
		if inactive && !streaming && !connected {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("collected idle chat sessions", zap.Int("count", removed))
	}
	return removed
}

// Get returns a session by id.
func (m *SessionManager) Get(id string) (*RemoteSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

func (m *SessionManager) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	m.mu.RLock()
	items := make([]map[string]any, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sess.mu.Lock()
		last := sess.LastActiveAt
		connected := sess.conn != nil
		sess.mu.Unlock()
		items = append(items, map[string]any{
			"id":          sess.ID,
			"model":       sess.chat.Model().ID,
			"turns":       len(sess.chat.Transcript()),
			"connected":   connected,
			"last_active": last.Format(time.RFC3339Nano),
		})
	}
	m.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i]["id"].(string) < items[j]["id"].(string) })
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func (m *SessionManager) handleNewSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sess, err := m.newSession()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	conn, err := m.upgrade(w, r)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, sess.ID)
		m.mu.Unlock()
		return
	}

	m.attachConn(sess, conn)
	m.sendSessionReady(sess, 0)
	m.runSessionLoop(sess, conn)
}

// handleSession serves /chat/sessions/{id} (resume) and
// /chat/sessions/{id}/export.
func (m *SessionManager) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/chat/sessions/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	sess, ok := m.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found", "code": apperr.KindNotFound.Code()})
		return
	}

	switch action {
	case "":
		m.handleResume(w, r, sess)
	case "export":
		m.handleExport(w, sess)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *SessionManager) handleResume(w http.ResponseWriter, r *http.Request, sess *RemoteSession) {
	conn, err := m.upgrade(w, r)
	if err != nil {
		return
	}
	m.attachConn(sess, conn)

	since := int64(0)
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if parsed, err := strconv.ParseInt(sinceStr, 10, 64); err == nil {
			since = parsed
		}
	}
	m.sendSessionReady(sess, since)
	m.runSessionLoop(sess, conn)
}

func (m *SessionManager) handleExport(w http.ResponseWriter, sess *RemoteSession) {
	snap := sess.chat.ExportSnapshot()
	data, err := snap.JSON()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+snap.Filename()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (m *SessionManager) runSessionLoop(sess *RemoteSession, conn *websocket.Conn) {
	readCh := make(chan ClientEvent)
	go func() {
		defer close(readCh)
		for {
			var ev ClientEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			readCh <- ev
		}
	}()

	for ev := range readCh {
		sess.mu.Lock()
		sess.LastActiveAt = m.now()
		sess.mu.Unlock()
		m.handleClientEvent(sess, ev)
	}

	m.detachConn(sess, conn)
}

func (m *SessionManager) handleClientEvent(sess *RemoteSession, ev ClientEvent) {
	switch ev.Type {
	case ClientMessage:
		m.startStream(sess, ev.Text)
	case ClientInterrupt:
		m.interruptStream(sess)
	case ClientReset:
		m.resetSession(sess)
	case ClientSelectModel:
		m.stopStream(sess)
		if err := sess.chat.SelectModel(ev.Model); err != nil {
			m.writeStreamEvent(sess, ErrorEvent(err))
			return
		}
		m.writeConfig(sess)
	case ClientSetMaxTokens:
		sess.chat.SetMaxTokens(ev.MaxTokens)
		m.writeConfig(sess)
	case ClientSetTemperature:
		if ev.Temperature == nil {
			m.writeStreamEvent(sess, ErrorEvent(apperr.InvalidConfig("chat.SetTemperature", "temperature is required")))
			return
		}
		if _, err := sess.chat.SetTemperature(*ev.Temperature); err != nil {
			m.writeStreamEvent(sess, ErrorEvent(err))
			return
		}
		m.writeConfig(sess)
	case ClientSetCredential:
		sess.chat.SetCredential(ev.Credential)
		m.writeConfig(sess)
	default:
		m.writeStreamEvent(sess, ErrorEvent(apperr.InvalidConfig("chat.Event", "unknown event type "+strconv.Quote(ev.Type))))
	}
}

func (m *SessionManager) interruptStream(sess *RemoteSession) {
	sess.mu.Lock()
	cancel := sess.cancelStream
	sess.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// stopStream cancels the running stream and waits for it to settle.
func (m *SessionManager) stopStream(sess *RemoteSession) {
	sess.mu.Lock()
	cancel := sess.cancelStream
	done := sess.streamDone
	sess.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *SessionManager) resetSession(sess *RemoteSession) {
	m.stopStream(sess)
	if err := sess.chat.Clear(); err != nil {
		m.writeStreamEvent(sess, ErrorEvent(err))
		return
	}
	sess.mu.Lock()
	sess.EventBuf = nil
	sess.NextSeq = 1
	sess.mu.Unlock()
	m.writeConfig(sess)
}

func (m *SessionManager) startStream(sess *RemoteSession, text string) {
	sess.mu.Lock()
	if sess.cancelStream != nil {
		sess.mu.Unlock()
		m.writeStreamEvent(sess, ErrorEvent(apperr.Busy("chat.Converse")))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sess.cancelStream = cancel
	sess.streamDone = done
	// Earlier turns are already in the session_ready history.
	sess.EventBuf = nil
	sess.mu.Unlock()

	go func() {
		defer func() {
			sess.mu.Lock()
			sess.cancelStream = nil
			sess.streamDone = nil
			sess.mu.Unlock()
			cancel()
			close(done)
		}()
		m.runTurn(ctx, sess, text)
	}()
}

func (m *SessionManager) runTurn(ctx context.Context, sess *RemoteSession, text string) {
	m.writeStreamEvent(sess, WireEvent{Type: EventPhaseChange, Phase: PhaseRequesting})

	streaming := false
	reply, err := m.opts.Client.Converse(ctx, sess.chat, text, func(fragment string) {
		if !streaming {
			streaming = true
			m.writeStreamEvent(sess, WireEvent{Type: EventPhaseChange, Phase: PhaseStreaming})
		}
		m.writeStreamEvent(sess, WireEvent{Type: EventTextDelta, Text: fragment})
	})

	switch {
	case err == nil:
		m.writeStreamEvent(sess, m.messageDone(reply))
	case apperr.Is(err, apperr.KindStream):
		m.writeStreamEvent(sess, ErrorEvent(err))
		// The failure was committed as an assistant turn; show it like one.
		transcript := sess.chat.Transcript()
		if n := len(transcript); n > 0 && transcript[n-1].Role == llm.RoleAssistant {
			m.writeStreamEvent(sess, m.messageDone(transcript[n-1].Content))
		}
	case apperr.Is(err, apperr.KindCanceled):
	default:
		m.writeStreamEvent(sess, ErrorEvent(err))
	}
	m.writeStreamEvent(sess, WireEvent{Type: EventPhaseChange, Phase: PhaseFor(err)})
}

func (m *SessionManager) messageDone(text string) WireEvent {
	html, err := render.HTML(text)
	if err != nil {
		m.logger.Warn("markdown render failed", zap.Error(err))
	}
	return WireEvent{Type: EventMessageDone, Text: text, HTML: html}
}

func (m *SessionManager) newSession() (*RemoteSession, error) {
	chatSess, err := core.NewSession(m.opts.Catalog, m.opts.SessionOptions...)
	if err != nil {
		return nil, err
	}
	for provider, secret := range m.opts.Credentials {
		if secret != "" {
			chatSess.SetProviderCredential(provider, secret)
		}
	}

	sess := &RemoteSession{
		ID:           chatSess.ID(),
		NextSeq:      1,
		LastActiveAt: m.now(),
		chat:         chatSess,
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	m.logger.Info("chat session created", zap.Object("session", chatSess))
	return sess, nil
}

func (m *SessionManager) attachConn(sess *RemoteSession, conn *websocket.Conn) {
	sess.mu.Lock()
	old := sess.conn
	sess.conn = conn
	sess.LastActiveAt = m.now()
	sess.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// detachConn drops conn unless a newer connection already replaced it.
func (m *SessionManager) detachConn(sess *RemoteSession, conn *websocket.Conn) {
	sess.mu.Lock()
	if sess.conn == conn {
		sess.conn = nil
		sess.LastActiveAt = m.now()
	}
	sess.mu.Unlock()
	_ = conn.Close()
}

func (m *SessionManager) sendSessionReady(sess *RemoteSession, since int64) {
	transcript := sess.chat.Transcript()
	history := make([]HistoryItem, 0, len(transcript))
	for _, t := range transcript {
		item := HistoryItem{Role: string(t.Role), Text: t.Content}
		if t.Role == llm.RoleAssistant {
			item.HTML, _ = render.HTML(t.Content)
		}
		history = append(history, item)
	}

	m.writeDirect(sess, WireEvent{Seq: 0, Type: EventSessionReady, SessionID: sess.ID, History: history, Config: configInfo(sess.chat)})
	if since <= 0 {
		return
	}

	sess.mu.Lock()
	var events []WireEvent
	for _, evt := range sess.EventBuf {
		if evt.Seq > since {
			events = append(events, evt)
		}
	}
	sess.mu.Unlock()
	if len(events) > 0 {
		m.writeDirect(sess, WireEvent{Seq: 0, Type: EventCatchup, Events: events})
	}
}

func (m *SessionManager) writeConfig(sess *RemoteSession) {
	m.writeStreamEvent(sess, WireEvent{Type: EventConfig, Config: configInfo(sess.chat)})
}

// writeStreamEvent numbers ev, buffers it for catchup and sends it if a
// client is attached.
func (m *SessionManager) writeStreamEvent(sess *RemoteSession, ev WireEvent) {
	sess.mu.Lock()
	ev.Seq = sess.NextSeq
	sess.NextSeq++
	sess.EventBuf = append(sess.EventBuf, ev)
	sess.mu.Unlock()

	m.writeDirect(sess, ev)
}

// writeDirect sends ev without buffering it.
func (m *SessionManager) writeDirect(sess *RemoteSession, ev WireEvent) {
	sess.mu.Lock()
	conn := sess.conn
	sess.mu.Unlock()
	if conn == nil {
		return
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := writeEvent(conn, ev); err != nil {
		m.logger.Debug("websocket write failed", zap.String("session", sess.ID), zap.Error(err))
	}
}

func (m *SessionManager) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.Authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (m *SessionManager) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{CheckOrigin: m.checkOrigin}
	return upgrader.Upgrade(w, r, nil)
}

func writeEvent(conn *websocket.Conn, e WireEvent) error {
	if conn == nil {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
