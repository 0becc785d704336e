// Package client connects to a chat-sync server over websocket and keeps a
// projection.Engine up to date with what it receives.
package client

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/projection"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
)

type Config struct {
	// BaseURL is the http(s) root of the server, e.g. http://localhost:8080.
	BaseURL      string
	Token        string
	HistoryLimit int
	Timeout      time.Duration
}

// Thread is a DM thread as listed by the server, with the peer resolved.
type Thread struct {
	ID            string        `json:"id"`
	Peer          domain.Author `json:"peer"`
	CreatedAt     time.Time     `json:"createdAt"`
	LastMessageAt *time.Time    `json:"lastMessageAt,omitempty"`
}

type Client struct {
	cfg    Config
	conn   *websocket.Conn
	engine *projection.Engine
	log    *slog.Logger

	writeMu sync.Mutex
	updates chan struct{}
	errs    chan event.Error

	mu    sync.RWMutex
	peers map[string]domain.Author
}

// Dial opens the websocket. The caller then runs Run to start receiving.
func Dial(ctx context.Context, cfg Config, engine *projection.Engine, log *slog.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	wsURL, err := socketURL(cfg.BaseURL, cfg.Token)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.Timeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", cfg.BaseURL, err)
	}
	return &Client{
		cfg:     cfg,
		conn:    conn,
		engine:  engine,
		log:     log,
		updates: make(chan struct{}, 1),
		errs:    make(chan event.Error, 16),
		peers:   make(map[string]domain.Author),
	}, nil
}

func socketURL(base, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", base, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	if token != "" {
		u.RawQuery = url.Values{"token": []string{token}}.Encode()
	}
	return u.String(), nil
}

func (c *Client) Engine() *projection.Engine { return c.engine }

// Updates fires after any event changed the local state. Bursts coalesce.
func (c *Client) Updates() <-chan struct{} { return c.updates }

// Errors carries the error events the server sent to this connection.
func (c *Client) Errors() <-chan event.Error { return c.errs }

// Run reads events until ctx is canceled or the socket fails.
func (c *Client) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = c.conn.Close()
	}()
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		evt, err := event.DecodeEvent(frame)
		if err != nil {
			c.log.Warn("Ignoring undecodable event", "error", err)
			continue
		}
		if e, ok := evt.(event.Error); ok {
			select {
			case c.errs <- e:
			default:
				c.log.Debug("Error event dropped", "reason", e.Reason)
			}
			continue
		}
		if c.engine.Apply(evt) {
			c.notify()
		}
	}
}

func (c *Client) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

func (c *Client) send(cmd domain.Command) error {
	frame, err := event.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Join subscribes to the room, then loads its history. Live events that
// arrive before the history are kept by the engine. A successful join is not
// acknowledged, so a message stored after the history snapshot but before the
// server registered the join is only seen on the next History or Join.
func (c *Client) Join(room domain.RoomKey) error {
	if err := c.send(domain.JoinRoom{Room: room}); err != nil {
		return err
	}
	msgs, err := c.History(room, c.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	c.engine.Load(room, msgs)
	c.notify()
	return nil
}

func (c *Client) Leave(room domain.RoomKey) error {
	return c.send(domain.LeaveRoom{Room: room})
}

func (c *Client) Send(room domain.RoomKey, content, replyToID string) error {
	return c.send(domain.SendMessage{Room: room, Content: content, ReplyToID: replyToID})
}

func (c *Client) React(messageID, emoji string) error {
	return c.send(domain.React{MessageID: messageID, Emoji: emoji})
}

// Open marks the room as the one being looked at.
func (c *Client) Open(room domain.RoomKey) {
	c.engine.Open(room)
	c.notify()
}

func (c *Client) History(room domain.RoomKey, limit int) ([]domain.Message, error) {
	var body struct {
		Messages []domain.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/rooms/%s/%s/messages?limit=%d", room.Kind, url.PathEscape(room.ID), limit)
	if err := c.do(fiber.Get(c.cfg.BaseURL+path), fiber.StatusOK, &body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}

// RefreshThreads fetches the thread list and hands it to the engine.
func (c *Client) RefreshThreads() ([]Thread, error) {
	var body struct {
		Threads []Thread `json:"threads"`
	}
	if err := c.do(fiber.Get(c.cfg.BaseURL+"/api/threads"), fiber.StatusOK, &body); err != nil {
		return nil, err
	}
	threads := make([]domain.DmThread, 0, len(body.Threads))
	for _, thread := range body.Threads {
		threads = append(threads, c.remember(thread))
	}
	c.engine.SetThreads(threads)
	c.notify()
	return body.Threads, nil
}

func (c *Client) OpenThread(peerID string) (Thread, error) {
	var thread Thread
	agent := fiber.Post(c.cfg.BaseURL + "/api/threads").JSON(map[string]string{"peerId": peerID})
	if err := c.do(agent, fiber.StatusCreated, &thread); err != nil {
		return Thread{}, err
	}
	c.remember(thread)
	return thread, nil
}

// Peer returns the other participant of a thread seen through this client.
func (c *Client) Peer(threadID string) (domain.Author, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	peer, ok := c.peers[threadID]
	return peer, ok
}

func (c *Client) remember(thread Thread) domain.DmThread {
	c.mu.Lock()
	c.peers[thread.ID] = thread.Peer
	c.mu.Unlock()

	dm := domain.DmThread{
		ID:           thread.ID,
		Participants: domain.Pair(c.engine.ViewerID(), thread.Peer.ID),
		CreatedAt:    thread.CreatedAt,
	}
	if thread.LastMessageAt != nil {
		dm.LastMessageAt = *thread.LastMessageAt
	}
	return dm
}

func (c *Client) do(agent *fiber.Agent, expected int, out any) error {
	agent.Set(fiber.HeaderAuthorization, "Bearer "+c.cfg.Token)
	agent.Timeout(c.cfg.Timeout)
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("request failed: %w", errs[0])
	}
	if code != expected {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return fmt.Errorf("server answered %d: %s", code, apiErr.Error)
	}
	return json.Unmarshal(body, out)
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
