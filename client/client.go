package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	server "tilequest/server"
	"tilequest/server/internal/tilemap"
)

// Config holds connection settings for a game client.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// AnswerURL is the synchronous answer endpoint, e.g. http://localhost:8080/answer.
	AnswerURL string
	// Name is the display name sent with the join event.
	Name string

	MoveSpeed   float64
	LerpFactor  float64
	MaxRetries  int
	BaseBackoff time.Duration

	HTTPClient *http.Client
	Log        *zap.SugaredLogger
}

// Remote is the client-side view of another player: the last authoritative
// state plus the interpolation buffer that smooths it for rendering.
type Remote struct {
	Player server.Player
	Interp *InterpolationBuffer
}

// ActiveQuestion is a question the server issued to this client that has
// not been answered or timed out yet.
type ActiveQuestion struct {
	TargetID string
	Prompt   string
	Deadline time.Time
}

// Client maintains an eventually consistent mirror of the server world.
// The local character is resolved locally every tick and transmitted
// fire-and-forget; everything else is applied as it arrives.
type Client struct {
	cfg   Config
	log   *zap.SugaredLogger
	httpc *http.Client

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	done      chan struct{}
	closeOnce sync.Once

	id       string
	self     server.Player
	resolver *server.Resolver
	mapW     float64
	mapH     float64

	remotes map[string]*Remote
	chests  map[string]server.Chest
	bosses  map[string]server.BossSpawn
	online  []server.RankingEntry
	allTime []server.RankingEntry

	question   *ActiveQuestion
	lastResult *server.AnswerResult
	answering  bool

	up, down, left, right bool
}

const (
	defaultMaxRetries  = 5
	defaultBaseBackoff = 500 * time.Millisecond
)

func New(cfg Config) *Client {
	if cfg.MoveSpeed <= 0 {
		cfg.MoveSpeed = server.DefaultMoveSpeed
	}
	if cfg.LerpFactor <= 0 {
		cfg.LerpFactor = defaultLerpFactor
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	return &Client{
		cfg:     cfg,
		log:     cfg.Log,
		httpc:   cfg.HTTPClient,
		done:    make(chan struct{}),
		remotes: make(map[string]*Remote),
		chests:  make(map[string]server.Chest),
		bosses:  make(map[string]server.BossSpawn),
	}
}

// Connect dials the server and joins the world. The first snapshot arrives
// asynchronously on the read loop.
func (c *Client) Connect(ctx context.Context) error {
	return c.dial(ctx)
}

// Close tears down the connection and stops reconnect attempts.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	if err := c.sendEnvelope(server.Envelope{Type: server.EventJoin, Name: c.cfg.Name}); err != nil {
		conn.Close()
		return err
	}
	go c.readLoop(conn)
	return nil
}

// reconnect retries with doubling backoff until it succeeds, the retry
// budget runs out, or the client is closed. The server assigns a fresh id
// on rejoin; the snapshot handler resets local state accordingly.
func (c *Client) reconnect() {
	backoff := c.cfg.BaseBackoff
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}
		if err := c.dial(context.Background()); err != nil {
			c.log.Warnw("reconnect failed", "attempt", attempt, "error", err)
			backoff *= 2
			continue
		}
		c.log.Infow("reconnected", "attempt", attempt)
		return
	}
	c.log.Errorw("giving up after repeated reconnect failures", "attempts", c.cfg.MaxRetries)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			select {
			case <-c.done:
			default:
				c.log.Warnw("connection lost", "error", err)
				go c.reconnect()
			}
			return
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			c.log.Debugw("dropping malformed message", "error", err)
			continue
		}
		handler, ok := eventHandlers[head.Type]
		if !ok {
			c.log.Debugw("dropping unknown event", "type", head.Type)
			continue
		}
		c.mu.Lock()
		handler(c, raw)
		c.mu.Unlock()
	}
}

// eventHandlers dispatches server events. Each event is treated as the
// latest state for the entities it names; missed events are never replayed.
var eventHandlers = map[string]func(*Client, []byte){
	server.EventWorldSnapshot: func(c *Client, raw []byte) {
		var msg server.WorldSnapshotMessage
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.id = msg.PlayerID
		c.mapW, c.mapH = msg.MapWidth, msg.MapHeight
		c.remotes = make(map[string]*Remote, len(msg.Players))
		for _, p := range msg.Players {
			if p.ID == c.id {
				c.self = p
				continue
			}
			c.applyRemote(p)
		}
		c.chests = make(map[string]server.Chest, len(msg.Chests))
		for _, ch := range msg.Chests {
			c.chests[ch.ID] = ch
		}
		c.bosses = make(map[string]server.BossSpawn, len(msg.Bosses))
		for _, b := range msg.Bosses {
			c.bosses[b.ID] = b
		}
		c.online = msg.Ranking
	},
	server.EventPlayerJoined: func(c *Client, raw []byte) {
		var msg server.PlayerJoinedMessage
		if json.Unmarshal(raw, &msg) != nil || msg.Player.ID == c.id {
			return
		}
		c.applyRemote(msg.Player)
	},
	server.EventPlayerLeft: func(c *Client, raw []byte) {
		var msg server.PlayerLeftMessage
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		delete(c.remotes, msg.PlayerID)
	},
	server.EventPlayerMoved: func(c *Client, raw []byte) {
		var msg server.PlayerMovedMessage
		if json.Unmarshal(raw, &msg) != nil || msg.PlayerID == c.id {
			return
		}
		r, ok := c.remotes[msg.PlayerID]
		if !ok {
			return
		}
		r.Player.X, r.Player.Y = msg.X, msg.Y
		r.Player.Direction = msg.Direction
		r.Player.Moving = msg.Moving
		r.Interp.Observe(msg.X, msg.Y, msg.Direction, msg.Moving)
	},
	server.EventPlayerUpdated: func(c *Client, raw []byte) {
		var msg server.PlayerUpdatedMessage
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		if msg.Player.ID == c.id {
			c.self.Name = msg.Player.Name
			c.self.Score = msg.Player.Score
			return
		}
		if r, ok := c.remotes[msg.Player.ID]; ok {
			pos := r.Interp
			r.Player = msg.Player
			r.Interp = pos
		}
	},
	server.EventQuestionIssued: func(c *Client, raw []byte) {
		var msg server.QuestionIssuedMessage
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.question = &ActiveQuestion{
			TargetID: msg.TargetID,
			Prompt:   msg.Question,
			Deadline: time.Now().Add(time.Duration(msg.TimeLimitMs) * time.Millisecond),
		}
	},
	server.EventAnswerResult: func(c *Client, raw []byte) {
		var msg server.AnswerResult
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.lastResult = &msg
		if c.question != nil && c.question.TargetID == msg.TargetID && !msg.Success && msg.Reason != server.ReasonIncorrect {
			c.question = nil
		}
	},
	server.EventChestAppeared: func(c *Client, raw []byte) {
		var msg server.ChestAppearedMessage
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.chests[msg.Chest.ID] = msg.Chest
	},
	server.EventChestOpened: func(c *Client, raw []byte) {
		var msg server.ChestOpenedMessage
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		ch, ok := c.chests[msg.ChestID]
		if !ok {
			return
		}
		ch.State = server.ChestOpening
		c.chests[msg.ChestID] = ch
		if c.question != nil && c.question.TargetID == msg.ChestID {
			c.question = nil
		}
	},
	server.EventChestDisappeared: func(c *Client, raw []byte) {
		var msg server.ChestDisappearedMessage
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		delete(c.chests, msg.ChestID)
	},
	server.EventBossCountdown: func(c *Client, raw []byte) {
		var msg server.BossCountdownMessage
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.bosses[msg.Boss.ID] = msg.Boss
	},
	server.EventBossUpdated: func(c *Client, raw []byte) {
		var msg server.BossUpdatedMessage
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.bosses[msg.Boss.ID] = msg.Boss
	},
	server.EventBossDefeated: removeBoss,
	server.EventBossExpired:  removeBoss,
	server.EventRankingUpdate: func(c *Client, raw []byte) {
		var msg server.RankingUpdateMessage
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.online = msg.Online
		if msg.AllTime != nil {
			c.allTime = msg.AllTime
		}
	},
}

func removeBoss(c *Client, raw []byte) {
	var msg server.BossRemovedMessage
	if json.Unmarshal(raw, &msg) != nil {
		return
	}
	delete(c.bosses, msg.BossID)
	if c.question != nil && c.question.TargetID == msg.BossID {
		c.question = nil
	}
}

// applyRemote registers or refreshes a remote player. Caller holds c.mu.
func (c *Client) applyRemote(p server.Player) {
	r, ok := c.remotes[p.ID]
	if !ok {
		r = &Remote{Interp: NewInterpolationBuffer(c.cfg.LerpFactor)}
		c.remotes[p.ID] = r
	}
	r.Player = p
	r.Interp.Observe(p.X, p.Y, p.Direction, p.Moving)
}

// SetInput records which movement keys are held. Conflicting keys are
// arbitrated by PickDirection on the next Step.
func (c *Client) SetInput(up, down, left, right bool) {
	c.mu.Lock()
	c.up, c.down, c.left, c.right = up, down, left, right
	c.mu.Unlock()
}

// Step advances one simulation tick: resolve the local character against
// the collision world, transmit the result fire-and-forget, then advance
// every remote interpolation buffer. Returns the local position.
func (c *Client) Step(dt float64) (float64, float64) {
	c.mu.Lock()
	dir, active := server.PickDirection(c.up, c.down, c.left, c.right)
	moved := false
	if active {
		dx, dy := server.Displacement(dir, c.cfg.MoveSpeed, dt)
		x, y := c.self.X+dx, c.self.Y+dy
		if c.resolver != nil {
			x, y = c.resolver.Resolve(x, y, c.self.X, c.self.Y, server.PlayerWidth, server.PlayerHeight)
		}
		moved = x != c.self.X || y != c.self.Y || c.self.Direction != dir || !c.self.Moving
		c.self.X, c.self.Y = x, y
		c.self.Direction = dir
		c.self.Moving = true
	} else if c.self.Moving {
		c.self.Moving = false
		moved = true
	}
	env := server.Envelope{
		Type:      server.EventMove,
		X:         c.self.X,
		Y:         c.self.Y,
		Direction: string(c.self.Direction),
		Moving:    c.self.Moving,
		SentAt:    time.Now().UnixMilli(),
	}
	for _, r := range c.remotes {
		r.Interp.Step()
	}
	x, y := c.self.X, c.self.Y
	send := moved && c.connected
	c.mu.Unlock()

	if send {
		if err := c.sendEnvelope(env); err != nil {
			c.log.Debugw("move send failed", "error", err)
		}
	}
	return x, y
}

// SetResolver installs the collision world the local character resolves
// against, typically built from the same map the server loaded.
func (c *Client) SetResolver(r *server.Resolver) {
	c.mu.Lock()
	c.resolver = r
	c.mu.Unlock()
}

// LoadMap parses the map document the server runs and installs its
// collision geometry as the local resolver, so predicted movement hits
// the same walls the server world was built from.
func (c *Client) LoadMap(fsys fs.FS, path string) error {
	data, err := tilemap.Load(fsys, path)
	if err != nil {
		return err
	}
	c.SetResolver(server.NewResolverFromMap(data, server.DefaultPadding))
	return nil
}

// InteractChest requests the question lock on a chest.
func (c *Client) InteractChest(chestID string) error {
	return c.sendEnvelope(server.Envelope{Type: server.EventInteractChest, ChestID: chestID})
}

// CancelChest releases a held chest lock without answering.
func (c *Client) CancelChest(chestID string) error {
	return c.sendEnvelope(server.Envelope{Type: server.EventCancelChest, ChestID: chestID})
}

// InteractBoss requests the question lock on an active boss.
func (c *Client) InteractBoss(bossID string) error {
	return c.sendEnvelope(server.Envelope{Type: server.EventInteractBoss, BossID: bossID})
}

// CancelBoss releases a held boss lock without answering.
func (c *Client) CancelBoss(bossID string) error {
	return c.sendEnvelope(server.Envelope{Type: server.EventCancelBoss, BossID: bossID})
}

type answerRequest struct {
	PlayerID string `json:"playerId"`
	TargetID string `json:"targetId"`
	Answer   string `json:"answer"`
}

// SubmitAnswer sends the player's answer over the synchronous HTTP exchange
// and blocks until grading completes. Only one submission may be in flight;
// further calls are rejected until the current one returns.
func (c *Client) SubmitAnswer(ctx context.Context, targetID, answer string) (server.AnswerResult, error) {
	c.mu.Lock()
	if c.answering {
		c.mu.Unlock()
		return server.AnswerResult{}, fmt.Errorf("answer already in flight")
	}
	c.answering = true
	playerID := c.id
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.answering = false
		c.mu.Unlock()
	}()

	body, err := json.Marshal(answerRequest{PlayerID: playerID, TargetID: targetID, Answer: answer})
	if err != nil {
		return server.AnswerResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AnswerURL, bytes.NewReader(body))
	if err != nil {
		return server.AnswerResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return server.AnswerResult{}, fmt.Errorf("submit answer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return server.AnswerResult{}, fmt.Errorf("submit answer: unexpected status %d", resp.StatusCode)
	}
	var result server.AnswerResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return server.AnswerResult{}, fmt.Errorf("decode answer result: %w", err)
	}
	c.mu.Lock()
	c.lastResult = &result
	if c.question != nil && c.question.TargetID == targetID && (result.Success || result.Reason != server.ReasonIncorrect) {
		c.question = nil
	}
	c.mu.Unlock()
	return result, nil
}

// sendEnvelope marshals and writes one outbound event. Writes are
// serialized by c.mu since gorilla connections allow a single writer.
func (c *Client) sendEnvelope(env server.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// ID returns the server-assigned player id, empty before the first snapshot.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// MapSize returns the world dimensions from the last snapshot.
func (c *Client) MapSize() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapW, c.mapH
}

// Self returns the local character state.
func (c *Client) Self() server.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Remotes returns a snapshot of every other player's interpolated state.
func (c *Client) Remotes() []server.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]server.Player, 0, len(c.remotes))
	for _, r := range c.remotes {
		p := r.Player
		p.X, p.Y = r.Interp.Position()
		out = append(out, p)
	}
	return out
}

// Chests returns the visible chests.
func (c *Client) Chests() []server.Chest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]server.Chest, 0, len(c.chests))
	for _, ch := range c.chests {
		out = append(out, ch)
	}
	return out
}

// Bosses returns the visible boss spawns.
func (c *Client) Bosses() []server.BossSpawn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]server.BossSpawn, 0, len(c.bosses))
	for _, b := range c.bosses {
		out = append(out, b)
	}
	return out
}

// Ranking returns the latest online and all-time leaderboards.
func (c *Client) Ranking() (online, allTime []server.RankingEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]server.RankingEntry(nil), c.online...), append([]server.RankingEntry(nil), c.allTime...)
}

// Question returns the question currently issued to this client, if any.
func (c *Client) Question() *ActiveQuestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.question == nil {
		return nil
	}
	q := *c.question
	return &q
}

// LastResult returns the most recent grading outcome, if any.
func (c *Client) LastResult() *server.AnswerResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastResult == nil {
		return nil
	}
	r := *c.lastResult
	return &r
}
