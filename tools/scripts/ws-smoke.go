// Package main provides a CI-friendly smoke test for the Parley chat stream.
//
// It validates:
//   - room creation over HTTP
//   - handshake + subprotocol selection
//   - hello/ack session establishment
//   - room activation and the initial view
//   - send -> ack, then the simulated assistant reply
//   - older history paging
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "parley/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "parley.chat.v1"
	maxReadBytes       = 9 << 20
)

type smokeClient struct {
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		token   = flag.String("token", "", "Access token; empty when the server runs with PARLEY_REQUIRE_AUTH=false")
		text    = flag.String("text", "hello parley", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	wsURL, err := wsURLFor(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	roomID := mustCreateRoom(root, *baseURL, *token, *timeout)

	c := mustConnect(root, wsURL, *origin, *token, *timeout)
	defer closeWS(c.conn)

	if *verbose {
		fmt.Printf("connected: session=%s room=%s origin=%q\n", c.sessionID, roomID, *origin)
	}

	mustWrite(root, c.conn, v1.TypeRoomActivate, v1.RoomActivatePayload{RoomID: roomID}, *timeout)
	first := c.mustReadView(root, *timeout, func(p v1.ViewPayload) bool {
		return p.RoomID == roomID && len(p.Messages) > 0
	})
	if !first.Cursor.HasMore {
		fatalf("initial view: has_more=false")
	}

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())
	mustWrite(root, c.conn, v1.TypeMessageSend, v1.MessageSendPayload{
		RoomID:      roomID,
		ClientMsgID: clientMsgID,
		Content:     *text,
	}, *timeout)

	ackEnv := c.mustReadUntilType(root, v1.TypeMessageAck, *timeout)
	var ack v1.MessageAckPayload
	if err := ackEnv.Decode(&ack); err != nil {
		fatalf("decode message_ack: %v", err)
	}
	if ack.ClientMsgID != clientMsgID {
		fatalf("ack client_msg_id mismatch: got=%q want=%q", ack.ClientMsgID, clientMsgID)
	}
	if ack.Message.Sender != "user" || ack.Message.Content != strings.TrimSpace(*text) {
		fatalf("ack message mismatch: %+v", ack.Message)
	}

	// Reply delay plus typing delay stays under a few seconds.
	replyWait := *timeout + 4*time.Second
	replied := c.mustReadView(root, replyWait, func(p v1.ViewPayload) bool {
		n := len(p.Messages)
		return n > 0 && p.Messages[n-1].Sender == "assistant" && p.Messages[n-1].Seq > ack.Message.Seq
	})
	if replied.Typing {
		fatalf("reply view still typing")
	}

	mustWrite(root, c.conn, v1.TypeHistoryLoad, v1.HistoryLoadPayload{RoomID: roomID}, *timeout)
	older := c.mustReadView(root, *timeout, func(p v1.ViewPayload) bool {
		return len(p.Messages) > len(replied.Messages)
	})

	fmt.Printf("OK: session=%s room=%s messages=%d page=%d\n", c.sessionID, roomID, len(older.Messages), older.Cursor.PageIndex)
}

func wsURLFor(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path += "/ws"
	return u.String(), nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustCreateRoom(parent context.Context, base, token string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body := mustJSON(map[string]string{
		"title":       fmt.Sprintf("smoke-%d", time.Now().UnixNano()),
		"description": "created by ws-smoke",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/rooms", bytes.NewReader(body))
	if err != nil {
		fatalf("create room: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("create room: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		fatalf("create room: status=%d", resp.StatusCode)
	}
	var room struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		fatalf("decode room: %v", err)
	}
	if room.ID == "" {
		fatalf("create room: empty id")
	}
	return room.ID
}

func mustConnect(parent context.Context, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, conn, v1.TypeHello, v1.HelloPayload{}, stepTimeout)
	ackEnv := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	if err := ackEnv.Decode(&p); err != nil {
		fatalf("decode hello_ack: %v", err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id")
	}
	c.sessionID = p.SessionID
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// next returns the next envelope, failing on timeout, close or a server error.
func (c *smokeClient) next(ctx context.Context, want string) v1.Envelope {
	select {
	case <-ctx.Done():
		fatalf("timeout waiting for %s: %v", want, ctx.Err())
	case err := <-c.errCh:
		fatalf("connection error while waiting for %s: %v", want, err)
	case env, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed while waiting for %s", want)
		}
		if env.Type == v1.TypeError {
			var ep v1.ErrorPayload
			_ = env.Decode(&ep)
			fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
		}
		return env
	}
	panic("unreachable")
}

// mustReadUntilType skips events and views until an envelope of wantType arrives.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		env := c.next(ctx, wantType)
		if env.Type == wantType {
			return env
		}
	}
}

func (c *smokeClient) mustReadView(parent context.Context, stepTimeout time.Duration, match func(v1.ViewPayload) bool) v1.ViewPayload {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		env := c.next(ctx, v1.TypeView)
		if env.Type != v1.TypeView {
			continue
		}
		var p v1.ViewPayload
		if err := env.Decode(&p); err != nil {
			fatalf("decode view: %v", err)
		}
		if match(p) {
			return p
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, typ string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	env, err := v1.NewEnvelope(typ, fmt.Sprintf("smoke-%s-%d", typ, time.Now().UnixNano()), time.Now().UTC(), payload)
	if err != nil {
		fatalf("build envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, mustJSON(env)); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
