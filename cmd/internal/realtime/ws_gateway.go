// Package realtime streams the conversation engine to presentation clients
// over WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"parley/cmd/internal/auth"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/ids"
	v1 "parley/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "parley.chat.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// DefaultAllowedOrigins is the development origin allowlist.
var DefaultAllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}

// Engine is the slice of the conversation engine the gateway drives.
type Engine interface {
	Subscribe(queue int) *chat.Subscriber
	Unsubscribe(id string)
	ActivateRoom(roomID string) error
	View() (chat.View, bool)
	Append(in chat.AppendInput) (chat.Message, error)
	LoadOlderPage(roomID string) (bool, error)
}

// Authenticator verifies bearer access tokens.
type Authenticator interface {
	Authenticate(token string) (auth.AccessClaims, error)
}

// GatewayConfig holds the connection policy. Zero fields take defaults.
type GatewayConfig struct {
	// RequireAuth rejects handshakes without a valid access token.
	RequireAuth bool

	// DevInsecure disables the websocket library's own origin check.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// WSGateway is the WebSocket entrypoint for the chat stream.
//
// It enforces origin policy, authentication, subprotocol selection, rate
// limits and heartbeats, routes validated envelopes to the Engine, and
// forwards engine events back to the client.
type WSGateway struct {
	log    *slog.Logger
	engine Engine
	auth   Authenticator

	requireAuth    bool
	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks, which only authorize
	// cross-origin requests listed in OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway. authn may be nil when cfg.RequireAuth is false.
func NewWSGateway(log *slog.Logger, engine Engine, authn Authenticator, cfg GatewayConfig) (*WSGateway, error) {
	if engine == nil {
		return nil, errors.New("realtime: nil engine")
	}
	if cfg.RequireAuth && authn == nil {
		return nil, errors.New("realtime: auth required but no authenticator")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	g := &WSGateway{
		log:              log,
		engine:           engine,
		auth:             authn,
		requireAuth:      cfg.RequireAuth,
		devInsecure:      cfg.DevInsecure,
		originRequired:   cfg.OriginRequired,
		allowedOrigins:   cfg.AllowedOrigins,
		writeTimeout:     orDuration(cfg.WriteTimeout, wsDefaultWriteTimeout),
		readIdleTimeout:  orDuration(cfg.ReadIdleTimeout, wsDefaultReadIdle),
		sendQueueSize:    cfg.SendQueueSize,
		heartbeatEvery:   orDuration(cfg.HeartbeatEvery, heartbeatInterval),
		heartbeatTimeout: orDuration(cfg.HeartbeatTimeout, heartbeatTimeout),
		rateEvents:       cfg.RateEvents,
		rateWindow:       cfg.RateWindow,
	}
	if g.allowedOrigins == nil {
		g.allowedOrigins = DefaultAllowedOrigins
	}
	if g.sendQueueSize <= 0 {
		g.sendQueueSize = wsDefaultSendQueueSize
	}
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)
	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the stream loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	client, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID := client.SessionID
	sub := g.engine.Subscribe(g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. The subscriber is removed before the client
	// closes so the event pump never targets a stopped client.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.engine.Unsubscribe(sub.ID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	g.log.Info("ws.open", "session_id", sessionID, "user_id", client.UserID, "remote", r.RemoteAddr)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case ev := <-sub.Events:
				g.forward(ctx, client, ev)
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			if err := g.onHello(ctx, client); err != nil {
				g.trySendError(ctx, client, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}

		case v1.TypeRoomActivate:
			if err := g.onRoomActivate(env); err != nil {
				g.trySendError(ctx, client, errorCode(err), err.Error())
			}

		case v1.TypeMessageSend:
			if err := g.onMessageSend(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, errorCode(err), err.Error())
			}

		case v1.TypeHistoryLoad:
			if err := g.onHistoryLoad(ctx, client, env); err != nil {
				g.trySendError(ctx, client, errorCode(err), err.Error())
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	<-eventsDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.close", "session_id", sessionID)
}

// ---- auth ----

func (g *WSGateway) authenticate(r *http.Request) (*Client, error) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}

	if token == "" || g.auth == nil {
		if g.requireAuth {
			return nil, errors.New("missing access token")
		}
		return NewClient("", ids.New(time.Now().UTC()), "", g.sendQueueSize), nil
	}

	claims, err := g.auth.Authenticate(token)
	if err != nil {
		return nil, err
	}
	return NewClient(claims.UserID, claims.SessionID, claims.DisplayName, g.sendQueueSize), nil
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ---- handlers ----

var errBadPayload = errors.New("bad payload")

func (g *WSGateway) onHello(ctx context.Context, client *Client) error {
	ack, err := newEnvelope(v1.TypeHelloAck, v1.HelloAckPayload{
		SessionID:   client.SessionID,
		DisplayName: client.DisplayName,
	})
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: hello_ack")
	}

	g.sendView(ctx, client, "")
	return nil
}

func (g *WSGateway) onRoomActivate(env v1.Envelope) error {
	var p v1.RoomActivatePayload
	if err := env.Decode(&p); err != nil {
		return fmt.Errorf("%w: %w", errBadPayload, err)
	}
	// Views for the new room arrive through the event pump.
	return g.engine.ActivateRoom(p.RoomID)
}

func (g *WSGateway) onMessageSend(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.MessageSendPayload
	if err := env.Decode(&p); err != nil {
		return fmt.Errorf("%w: %w", errBadPayload, err)
	}

	msg, err := g.engine.Append(toAppendInput(p))
	if err != nil {
		return err
	}

	ack, err := newEnvelope(v1.TypeMessageAck, v1.MessageAckPayload{
		ClientMsgID: p.ClientMsgID,
		Message:     toWireMessage(msg),
	})
	if err != nil {
		return err
	}
	ack.TS = now
	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: message_ack")
	}
	return nil
}

func (g *WSGateway) onHistoryLoad(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.HistoryLoadPayload
	if err := env.Decode(&p); err != nil {
		return fmt.Errorf("%w: %w", errBadPayload, err)
	}

	started, err := g.engine.LoadOlderPage(p.RoomID)
	if err != nil {
		return err
	}
	if !started {
		// Nothing changes, so no event follows; echo the cursor state.
		g.sendView(ctx, client, p.RoomID)
	}
	return nil
}

// forward relays one engine event, followed by the active view when the
// event touched the active room.
func (g *WSGateway) forward(ctx context.Context, client *Client, ev chat.Event) {
	env, err := newEnvelope(v1.TypeEvent, toWireEvent(ev))
	if err != nil {
		g.log.Error("ws.event.encode.fail", "session_id", client.SessionID, "err", err)
		return
	}
	if !g.enqueue(ctx, client, env) {
		g.log.Debug("ws.event.drop", "session_id", client.SessionID, "kind", string(ev.Kind))
		return
	}
	if ev.Kind == chat.EventRoomListChanged || ev.RoomID == "" {
		return
	}
	g.sendView(ctx, client, ev.RoomID)
}

// sendView enqueues the active view. A non-empty roomID restricts it to that room.
func (g *WSGateway) sendView(ctx context.Context, client *Client, roomID string) {
	view, ok := g.engine.View()
	if !ok || (roomID != "" && view.Room.ID != roomID) {
		return
	}
	env, err := newEnvelope(v1.TypeView, toWireView(view))
	if err != nil {
		g.log.Error("ws.view.encode.fail", "session_id", client.SessionID, "err", err)
		return
	}
	if !g.enqueue(ctx, client, env) {
		g.log.Debug("ws.view.drop", "session_id", client.SessionID, "room_id", view.Room.ID)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadPayload):
		return "bad_payload"
	case chat.IsValidation(err):
		return "validation"
	case chat.IsInvalidState(err):
		return "invalid_state"
	default:
		return "internal"
	}
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	env, err := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload any) (v1.Envelope, error) {
	now := time.Now().UTC()
	return v1.NewEnvelope(typ, ids.New(now), now, payload)
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match ignores scheme and port.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted distinct hosts of
// the allowlist, the form websocket.Accept matches OriginPatterns against.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
