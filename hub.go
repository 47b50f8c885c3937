package server

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tilequest/server/internal/judge"
	"tilequest/server/internal/messaging"
	"tilequest/server/internal/quiz"
	"tilequest/server/internal/store"
)

// Hub owns the authoritative world state of one shard: connected players,
// active chests, boss spawns, and the subscriber registry. Every mutation
// flows through a single goroutine draining the command channel, so one
// event is fully processed before the next and the registry needs no
// locking. The chest/boss solver field is the only concurrency control:
// a cooperative single-owner lock enforced by rejecting competing
// requests, never by blocking them.
type Hub struct {
	cfg    Config
	log    *zap.SugaredLogger
	bank   *quiz.Bank
	scores store.Storer
	events *messaging.Publisher

	commands  chan command
	nextID    atomic.Uint64
	processed atomic.Uint64
	startedAt time.Time

	// Everything below is owned by the run loop.
	players     map[string]*playerState
	order       []string
	chests      map[string]*chestState
	bosses      map[string]*bossState
	subscribers map[string]*subscriber
	lastSeen    map[string]position
	allTime     []RankingEntry
	rng         *rand.Rand
	bossTimer   *time.Timer
}

type position struct {
	x float64
	y float64
}

// Option configures optional hub collaborators.
type Option func(*Hub)

// WithLogger routes hub logging through the given sugared logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(h *Hub) { h.log = log }
}

// WithQuestions supplies the question bank chests and bosses draw from.
func WithQuestions(bank *quiz.Bank) Option {
	return func(h *Hub) { h.bank = bank }
}

// WithScores attaches the persistent all-time ranking store.
func WithScores(s store.Storer) Option {
	return func(h *Hub) { h.scores = s }
}

// WithPublisher attaches an event publisher for external consumers.
func WithPublisher(p *messaging.Publisher) Option {
	return func(h *Hub) { h.events = p }
}

// NewHub builds a hub and seeds the chests declared in cfg. The hub does
// nothing until Run is started.
func NewHub(cfg Config, opts ...Option) *Hub {
	cfg.normalize()
	h := &Hub{
		cfg:         cfg,
		commands:    make(chan command, commandQueueSize),
		players:     make(map[string]*playerState),
		chests:      make(map[string]*chestState),
		bosses:      make(map[string]*bossState),
		subscribers: make(map[string]*subscriber),
		lastSeen:    make(map[string]position),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		startedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = zap.NewNop().Sugar()
	}
	for _, seed := range cfg.Chests {
		h.seedChest(seed)
	}
	return h
}

func (h *Hub) seedChest(seed ChestSeed) *chestState {
	rarity, ok := ParseRarity(string(seed.Rarity))
	if !ok {
		rarity = RarityCommon
	}
	id := uuid.NewString()
	c := &chestState{Chest: Chest{ID: id, X: seed.X, Y: seed.Y, Rarity: rarity, State: ChestClosed}}
	h.chests[id] = c
	return c
}

// Run drives the shard event loop until stop closes. Ranking broadcasts
// and the all-time store poll ride the same loop so they observe a
// consistent registry.
func (h *Hub) Run(stop <-chan struct{}) {
	ranking := time.NewTicker(rankingInterval)
	defer ranking.Stop()
	poll := time.NewTicker(allTimePollInterval)
	defer poll.Stop()

	if h.cfg.BossInterval > 0 {
		h.scheduleBossSpawn(h.cfg.BossInterval)
	}
	h.startAllTimePoll()

	for {
		select {
		case <-stop:
			if h.bossTimer != nil {
				h.bossTimer.Stop()
			}
			return
		case <-ranking.C:
			h.broadcastRanking()
		case <-poll.C:
			h.startAllTimePoll()
		case cmd := <-h.commands:
			h.dispatch(cmd)
		}
	}
}

// post enqueues a command without blocking the caller. A full queue drops
// the command; position updates are fire-and-forget and everything else
// retries at the protocol level.
func (h *Hub) post(cmd command) bool {
	select {
	case h.commands <- cmd:
		return true
	default:
		h.log.Warnw("command queue full, dropping", "kind", cmd.kind)
		return false
	}
}

// postWait enqueues a command even under backpressure. Used for leave so a
// closed connection can never strand its player in the registry.
func (h *Hub) postWait(cmd command) {
	h.commands <- cmd
}

func (h *Hub) dispatch(cmd command) {
	h.processed.Add(1)
	switch cmd.kind {
	case cmdJoin:
		h.handleJoin(cmd)
	case cmdLeave:
		h.handleLeave(cmd)
	case cmdMove:
		h.handleMove(cmd)
	case cmdInteractChest:
		h.handleInteractChest(cmd)
	case cmdCancelChest:
		h.handleCancelChest(cmd)
	case cmdInteractBoss:
		h.handleInteractBoss(cmd)
	case cmdCancelBoss:
		h.handleCancelBoss(cmd)
	case cmdBeginAnswer:
		h.handleBeginAnswer(cmd)
	case cmdResolveAnswer:
		h.handleResolveAnswer(cmd)
	case cmdChestExpired:
		h.handleChestExpired(cmd)
	case cmdChestRevealed:
		h.handleChestRevealed(cmd)
	case cmdBossActivate:
		h.handleBossActivate(cmd)
	case cmdBossClockExpired:
		h.handleBossClockExpired(cmd)
	case cmdBossQuestionExpired:
		h.handleBossQuestionExpired(cmd)
	case cmdBossAutoSpawn:
		h.handleBossAutoSpawn(cmd)
	case cmdPlaceChest:
		h.handlePlaceChest(cmd)
	case cmdResetChest:
		h.handleResetChest(cmd)
	case cmdSpawnBoss:
		h.spawnBoss(cmd.boss)
	case cmdAllTimeLoaded:
		h.allTime = cmd.entries
	case cmdDiagnostics:
		h.handleDiagnostics(cmd)
	default:
		h.log.Warnw("unknown command kind", "kind", cmd.kind)
	}
}

// --- session lifecycle -----------------------------------------------------

func (h *Hub) handleJoin(cmd command) {
	sub := cmd.sub
	if sub == nil {
		return
	}
	if _, ok := h.players[sub.id]; ok {
		h.log.Debugw("duplicate join ignored", "player", sub.id)
		return
	}

	now := time.Now()
	x, y := h.spawnPosition(cmd.name)
	p := &playerState{
		Player: Player{
			ID:          sub.id,
			Name:        cmd.name,
			X:           x,
			Y:           y,
			Direction:   defaultDirection,
			ConnectedAt: now.UnixMilli(),
		},
		joinedAt: now,
	}
	h.players[sub.id] = p
	h.order = append(h.order, sub.id)
	h.subscribers[sub.id] = sub

	h.send(sub, WorldSnapshotMessage{
		Ver:        ProtocolVersion,
		Type:       EventWorldSnapshot,
		PlayerID:   sub.id,
		Players:    h.playersSnapshot(),
		Chests:     h.chestsSnapshot(),
		Bosses:     h.bossesSnapshot(),
		Ranking:    h.onlineRanking(),
		MapWidth:   h.cfg.MapWidth,
		MapHeight:  h.cfg.MapHeight,
		ServerTime: now.UnixMilli(),
	})
	h.broadcast(PlayerJoinedMessage{Ver: ProtocolVersion, Type: EventPlayerJoined, Player: p.snapshot()}, sub.id)
	h.log.Infow("player joined", "player", sub.id, "name", cmd.name)
}

// spawnPosition resumes the last known position for a returning name, or
// jitters around the default spawn so newcomers do not stack exactly.
func (h *Hub) spawnPosition(name string) (float64, float64) {
	if name != "" {
		if pos, ok := h.lastSeen[name]; ok {
			return pos.x, pos.y
		}
	}
	jx := (h.rng.Float64()*2 - 1) * h.cfg.SpawnJitter
	jy := (h.rng.Float64()*2 - 1) * h.cfg.SpawnJitter
	x := clamp(h.cfg.SpawnX+jx, h.cfg.Padding, h.cfg.MapWidth-h.cfg.Padding)
	y := clamp(h.cfg.SpawnY+jy, h.cfg.Padding, h.cfg.MapHeight-h.cfg.Padding)
	return x, y
}

func (h *Hub) handleLeave(cmd command) {
	p, ok := h.players[cmd.playerID]
	if !ok {
		if sub, subOK := h.subscribers[cmd.playerID]; subOK {
			delete(h.subscribers, cmd.playerID)
			sub.close()
		}
		return
	}

	h.releaseLocksHeldBy(cmd.playerID)

	if p.Name != "" {
		h.lastSeen[p.Name] = position{x: p.X, y: p.Y}
	}
	delete(h.players, cmd.playerID)
	for i, id := range h.order {
		if id == cmd.playerID {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	if sub, subOK := h.subscribers[cmd.playerID]; subOK {
		delete(h.subscribers, cmd.playerID)
		sub.close()
	}

	h.broadcast(PlayerLeftMessage{Ver: ProtocolVersion, Type: EventPlayerLeft, PlayerID: cmd.playerID})
	h.log.Infow("player left", "player", cmd.playerID)
}

// releaseLocksHeldBy cancels any mid-solve interaction owned by the
// departing connection.
func (h *Hub) releaseLocksHeldBy(playerID string) {
	for _, c := range h.chests {
		if c.SolverID == playerID {
			c.releaseLock()
		}
	}
	for _, b := range h.bosses {
		if b.solverID == playerID {
			b.releaseLock()
		}
	}
}

func (h *Hub) handleMove(cmd command) {
	p, ok := h.players[cmd.playerID]
	if !ok {
		return
	}
	// Client-reported positions are trusted by design; the server clamps
	// to map bounds but performs no speed or collision re-validation.
	p.X = clamp(cmd.x, h.cfg.Padding, h.cfg.MapWidth-h.cfg.Padding)
	p.Y = clamp(cmd.y, h.cfg.Padding, h.cfg.MapHeight-h.cfg.Padding)
	p.Direction = cmd.direction
	p.Moving = cmd.moving
	h.broadcast(PlayerMovedMessage{
		Ver:       ProtocolVersion,
		Type:      EventPlayerMoved,
		PlayerID:  p.ID,
		X:         p.X,
		Y:         p.Y,
		Direction: p.Direction,
		Moving:    p.Moving,
	}, p.ID)
}

// --- chest interaction -----------------------------------------------------

func (h *Hub) handleInteractChest(cmd command) {
	p, ok := h.players[cmd.playerID]
	if !ok {
		return
	}
	c, ok := h.chests[cmd.targetID]
	if !ok || c.State != ChestClosed {
		h.sendAnswerResult(p.ID, cmd.targetID, AnswerResult{Success: false, Reason: ReasonUnavailable})
		return
	}
	if c.SolverID != "" && c.SolverID != p.ID {
		h.sendAnswerResult(p.ID, c.ID, AnswerResult{Success: false, Reason: ReasonBusy})
		return
	}
	if c.SolverID == p.ID {
		// Lock holder repeated the interact; reissue the open question.
		h.sendQuestion(p.ID, c.ID, c.question.Prompt)
		return
	}

	q, ok := h.pickQuestion(string(c.Rarity))
	if !ok {
		h.log.Warnw("no question available", "rarity", c.Rarity)
		h.sendAnswerResult(p.ID, c.ID, AnswerResult{Success: false, Reason: ReasonUnavailable})
		return
	}

	c.SolverID = p.ID
	c.question = q
	c.lockGen++
	gen := c.lockGen
	chestID := c.ID
	c.expiry = time.AfterFunc(h.cfg.QuestionTimeLimit, func() {
		h.post(command{kind: cmdChestExpired, targetID: chestID, generation: gen})
	})
	h.sendQuestion(p.ID, c.ID, q.Prompt)
}

func (h *Hub) handleCancelChest(cmd command) {
	c, ok := h.chests[cmd.targetID]
	if !ok || c.SolverID != cmd.playerID {
		return
	}
	c.releaseLock()
}

func (h *Hub) handleChestExpired(cmd command) {
	c, ok := h.chests[cmd.targetID]
	if !ok || cmd.generation != c.lockGen || c.SolverID == "" {
		// Stale fire after the chest was resolved or re-locked; a no-op.
		return
	}
	solver := c.SolverID
	c.releaseLock()
	h.sendAnswerResult(solver, c.ID, AnswerResult{Success: false, Reason: ReasonTimeout})
}

func (h *Hub) handleChestRevealed(cmd command) {
	c, ok := h.chests[cmd.targetID]
	if !ok || cmd.generation != c.lifeGen || c.State != ChestOpening {
		return
	}
	c.State = ChestRemoved
	c.reveal = nil
	h.broadcast(ChestDisappearedMessage{Ver: ProtocolVersion, Type: EventChestDisappeared, ChestID: c.ID})
	// Removed chests never come back under the same id, so the entry goes.
	delete(h.chests, c.ID)
}

func (h *Hub) handlePlaceChest(cmd command) {
	c := h.seedChest(ChestSeed{X: cmd.x, Y: cmd.y, Rarity: cmd.rarity})
	h.broadcast(ChestAppearedMessage{Ver: ProtocolVersion, Type: EventChestAppeared, Chest: c.snapshot()})
}

func (h *Hub) handleResetChest(cmd command) {
	c, ok := h.chests[cmd.targetID]
	if !ok {
		h.log.Warnw("reset for unknown chest", "chest", cmd.targetID)
		return
	}
	c.releaseLock()
	c.lifeGen++
	if c.reveal != nil {
		c.reveal.Stop()
		c.reveal = nil
	}
	c.State = ChestClosed
	h.broadcast(ChestAppearedMessage{Ver: ProtocolVersion, Type: EventChestAppeared, Chest: c.snapshot()})
}

// --- boss interaction ------------------------------------------------------

func (h *Hub) handleInteractBoss(cmd command) {
	p, ok := h.players[cmd.playerID]
	if !ok {
		return
	}
	b, ok := h.bosses[cmd.targetID]
	if !ok || b.State != BossActive {
		h.sendAnswerResult(p.ID, cmd.targetID, AnswerResult{Success: false, Reason: ReasonUnavailable})
		return
	}
	if b.solverID != "" && b.solverID != p.ID {
		h.sendAnswerResult(p.ID, b.ID, AnswerResult{Success: false, Reason: ReasonBusy})
		return
	}
	if b.solverID == p.ID {
		h.sendQuestion(p.ID, b.ID, b.question.Prompt)
		return
	}

	q, ok := h.pickQuestion(string(RarityRare))
	if !ok {
		h.log.Warnw("no question available for boss", "boss", b.ID)
		h.sendAnswerResult(p.ID, b.ID, AnswerResult{Success: false, Reason: ReasonUnavailable})
		return
	}

	b.solverID = p.ID
	b.question = q
	b.lockGen++
	gen := b.lockGen
	bossID := b.ID
	b.expiry = time.AfterFunc(h.cfg.QuestionTimeLimit, func() {
		h.post(command{kind: cmdBossQuestionExpired, targetID: bossID, generation: gen})
	})
	h.sendQuestion(p.ID, b.ID, q.Prompt)
}

func (h *Hub) handleCancelBoss(cmd command) {
	b, ok := h.bosses[cmd.targetID]
	if !ok || b.solverID != cmd.playerID {
		return
	}
	b.releaseLock()
}

func (h *Hub) handleBossQuestionExpired(cmd command) {
	b, ok := h.bosses[cmd.targetID]
	if !ok || cmd.generation != b.lockGen || b.solverID == "" {
		return
	}
	solver := b.solverID
	b.releaseLock()
	h.sendAnswerResult(solver, b.ID, AnswerResult{Success: false, Reason: ReasonTimeout})
}

func (h *Hub) handleBossActivate(cmd command) {
	b, ok := h.bosses[cmd.targetID]
	if !ok || cmd.generation != b.lifeGen || b.State != BossCountdown {
		return
	}
	b.State = BossActive
	b.lifeGen++
	gen := b.lifeGen
	bossID := b.ID
	b.clock = time.AfterFunc(time.Duration(b.TimeLimitSeconds)*time.Second, func() {
		h.post(command{kind: cmdBossClockExpired, targetID: bossID, generation: gen})
	})
	h.broadcast(BossUpdatedMessage{Ver: ProtocolVersion, Type: EventBossUpdated, Boss: b.snapshot()})
	h.log.Infow("boss activated", "boss", b.ID, "name", b.Name)
}

func (h *Hub) handleBossClockExpired(cmd command) {
	b, ok := h.bosses[cmd.targetID]
	if !ok || cmd.generation != b.lifeGen || b.State != BossActive {
		return
	}
	if b.solverID != "" {
		h.sendAnswerResult(b.solverID, b.ID, AnswerResult{Success: false, Reason: ReasonTimeout})
	}
	b.releaseLock()
	b.State = BossExpired
	b.lifeGen++
	b.clock = nil
	h.broadcast(BossRemovedMessage{Ver: ProtocolVersion, Type: EventBossExpired, BossID: b.ID, State: BossExpired})
	h.publish(messaging.SubjectBossExpired, b.snapshot())
	h.log.Infow("boss expired", "boss", b.ID, "name", b.Name)
	delete(h.bosses, b.ID)
}

func (h *Hub) handleBossAutoSpawn(cmd command) {
	h.spawnBoss(BossSpawn{
		Name:             h.cfg.BossName,
		MaxHP:            h.cfg.BossMaxHP,
		TimeLimitSeconds: int(h.cfg.BossTimeLimit.Seconds()),
	})
	h.scheduleBossSpawn(h.cfg.BossInterval)
}

func (h *Hub) scheduleBossSpawn(d time.Duration) {
	h.bossTimer = time.AfterFunc(d, func() {
		h.post(command{kind: cmdBossAutoSpawn})
	})
}

// spawnBoss creates a boss in the countdown phase and announces it. The
// boss goes active once the countdown elapses.
func (h *Hub) spawnBoss(spec BossSpawn) {
	b := &bossState{BossSpawn: spec}
	b.ID = uuid.NewString()
	if b.Name == "" {
		b.Name = h.cfg.BossName
	}
	if b.MaxHP <= 0 {
		b.MaxHP = h.cfg.BossMaxHP
	}
	if b.TimeLimitSeconds <= 0 {
		b.TimeLimitSeconds = int(h.cfg.BossTimeLimit.Seconds())
	}
	if b.X == 0 && b.Y == 0 {
		b.X = h.cfg.Padding + h.rng.Float64()*(h.cfg.MapWidth-2*h.cfg.Padding)
		b.Y = h.cfg.Padding + h.rng.Float64()*(h.cfg.MapHeight-2*h.cfg.Padding)
	}
	b.CurrentHP = b.MaxHP
	b.State = BossCountdown
	b.SpawnedAt = time.Now().UnixMilli()
	h.bosses[b.ID] = b

	b.lifeGen++
	gen := b.lifeGen
	bossID := b.ID
	b.clock = time.AfterFunc(h.cfg.BossCountdown, func() {
		h.post(command{kind: cmdBossActivate, targetID: bossID, generation: gen})
	})
	h.broadcast(BossCountdownMessage{
		Ver:            ProtocolVersion,
		Type:           EventBossCountdown,
		Boss:           b.snapshot(),
		SecondsToSpawn: int64(h.cfg.BossCountdown.Seconds()),
	})
	h.log.Infow("boss spawn scheduled", "boss", b.ID, "name", b.Name, "countdown", h.cfg.BossCountdown)
}

// --- answer exchange -------------------------------------------------------

type beginAnswer struct {
	ok         bool
	reason     string
	cooldownMs int64
	prompt     string
	expected   string
	generation uint64
}

func (h *Hub) handleBeginAnswer(cmd command) {
	if cmd.begin == nil {
		return
	}
	now := time.Now()

	if c, ok := h.chests[cmd.targetID]; ok {
		switch {
		case c.State != ChestClosed || c.SolverID == "":
			cmd.begin <- beginAnswer{reason: ReasonUnavailable}
		case c.SolverID != cmd.playerID:
			cmd.begin <- beginAnswer{reason: ReasonNotSolver}
		case now.Before(c.cooldownUntil):
			cmd.begin <- beginAnswer{reason: ReasonCooldown, cooldownMs: c.cooldownUntil.Sub(now).Milliseconds()}
		default:
			cmd.begin <- beginAnswer{ok: true, prompt: c.question.Prompt, expected: c.question.Answer, generation: c.lockGen}
		}
		return
	}

	if b, ok := h.bosses[cmd.targetID]; ok {
		switch {
		case b.State != BossActive || b.solverID == "":
			cmd.begin <- beginAnswer{reason: ReasonUnavailable}
		case b.solverID != cmd.playerID:
			cmd.begin <- beginAnswer{reason: ReasonNotSolver}
		case now.Before(b.cooldownUntil):
			cmd.begin <- beginAnswer{reason: ReasonCooldown, cooldownMs: b.cooldownUntil.Sub(now).Milliseconds()}
		default:
			cmd.begin <- beginAnswer{ok: true, prompt: b.question.Prompt, expected: b.question.Answer, generation: b.lockGen}
		}
		return
	}

	cmd.begin <- beginAnswer{reason: ReasonUnavailable}
}

func (h *Hub) handleResolveAnswer(cmd command) {
	if cmd.reply == nil {
		return
	}

	if c, ok := h.chests[cmd.targetID]; ok {
		cmd.reply <- h.resolveChestAnswer(c, cmd)
		return
	}
	if b, ok := h.bosses[cmd.targetID]; ok {
		cmd.reply <- h.resolveBossAnswer(b, cmd)
		return
	}
	cmd.reply <- AnswerResult{Success: false, Reason: ReasonUnavailable}
}

func (h *Hub) resolveChestAnswer(c *chestState, cmd command) AnswerResult {
	if c.State != ChestClosed || c.SolverID != cmd.playerID || c.lockGen != cmd.generation {
		// The lock moved on while the judge was grading.
		return AnswerResult{Success: false, Reason: ReasonExpired}
	}
	if !cmd.correct {
		c.cooldownUntil = time.Now().Add(h.cfg.AnswerCooldown)
		return AnswerResult{Success: false, Reason: ReasonIncorrect, CooldownMs: h.cfg.AnswerCooldown.Milliseconds()}
	}

	// Lock releases at the transition to opening, not at removal.
	c.releaseLock()
	c.State = ChestOpening
	c.lifeGen++
	gen := c.lifeGen
	chestID := c.ID
	c.reveal = time.AfterFunc(h.cfg.ChestRevealDelay, func() {
		h.post(command{kind: cmdChestRevealed, targetID: chestID, generation: gen})
	})

	h.awardPoint(cmd.playerID)
	h.broadcast(ChestOpenedMessage{Ver: ProtocolVersion, Type: EventChestOpened, ChestID: c.ID, SolverID: cmd.playerID, Rarity: c.Rarity})
	h.publish(messaging.SubjectChestOpened, c.snapshot())
	h.log.Infow("chest opened", "chest", c.ID, "solver", cmd.playerID, "rarity", c.Rarity)
	return AnswerResult{Success: true}
}

func (h *Hub) resolveBossAnswer(b *bossState, cmd command) AnswerResult {
	if b.State != BossActive || b.solverID != cmd.playerID || b.lockGen != cmd.generation {
		return AnswerResult{Success: false, Reason: ReasonExpired}
	}
	if !cmd.correct {
		b.cooldownUntil = time.Now().Add(h.cfg.AnswerCooldown)
		return AnswerResult{Success: false, Reason: ReasonIncorrect, CooldownMs: h.cfg.AnswerCooldown.Milliseconds()}
	}

	b.releaseLock()
	h.awardPoint(cmd.playerID)
	defeated := b.applyDamage(h.cfg.BossDamagePerAnswer)
	h.broadcast(BossUpdatedMessage{Ver: ProtocolVersion, Type: EventBossUpdated, Boss: b.snapshot()})
	if defeated {
		b.State = BossDefeated
		b.stopClock()
		h.broadcast(BossRemovedMessage{Ver: ProtocolVersion, Type: EventBossDefeated, BossID: b.ID, State: BossDefeated})
		h.publish(messaging.SubjectBossDefeated, b.snapshot())
		h.log.Infow("boss defeated", "boss", b.ID, "name", b.Name, "by", cmd.playerID)
		delete(h.bosses, b.ID)
	}
	return AnswerResult{Success: true}
}

// awardPoint bumps the solver's score, mirrors it to the all-time store,
// and pushes the refreshed ranking.
func (h *Hub) awardPoint(playerID string) {
	p, ok := h.players[playerID]
	if !ok {
		return
	}
	p.Score++
	h.broadcast(PlayerUpdatedMessage{Ver: ProtocolVersion, Type: EventPlayerUpdated, Player: p.snapshot()})
	h.broadcastRanking()
	if h.scores != nil && p.Name != "" {
		name := p.Name
		go func() {
			if err := h.scores.Add(name, 1); err != nil {
				h.log.Warnw("failed to persist score", "name", name, "err", err)
			}
		}()
	}
}

// SubmitAnswer runs the synchronous answer exchange: reserve the question
// on the hub loop, grade outside it, then apply the verdict back on the
// loop. Generation checks make a verdict that raced an expiry or cancel a
// clean rejection instead of a double resolution.
func (h *Hub) SubmitAnswer(ctx context.Context, grader judge.Judge, playerID, targetID, answer string) AnswerResult {
	begin := make(chan beginAnswer, 1)
	if !h.post(command{kind: cmdBeginAnswer, playerID: playerID, targetID: targetID, begin: begin}) {
		return AnswerResult{Success: false, Reason: ReasonUnavailable}
	}
	var ticket beginAnswer
	select {
	case ticket = <-begin:
	case <-ctx.Done():
		return AnswerResult{Success: false, Reason: ReasonUnavailable}
	}
	if !ticket.ok {
		return AnswerResult{Success: false, Reason: ticket.reason, CooldownMs: ticket.cooldownMs}
	}

	correct, err := grader.Grade(ctx, ticket.prompt, ticket.expected, answer)
	if err != nil {
		// The lock stays with the solver so they can retry once the
		// judge recovers.
		h.log.Warnw("judge failure", "player", playerID, "target", targetID, "err", err)
		return AnswerResult{Success: false, Reason: ReasonGradingFailed}
	}

	reply := make(chan AnswerResult, 1)
	if !h.post(command{kind: cmdResolveAnswer, playerID: playerID, targetID: targetID, generation: ticket.generation, correct: correct, reply: reply}) {
		return AnswerResult{Success: false, Reason: ReasonUnavailable}
	}
	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return AnswerResult{Success: false, Reason: ReasonUnavailable}
	}
}

// --- admin operations ------------------------------------------------------

// PlaceChest creates a closed chest at the given position.
func (h *Hub) PlaceChest(x, y float64, rarity ChestRarity) {
	h.post(command{kind: cmdPlaceChest, x: x, y: y, rarity: rarity})
}

// ResetChest returns a chest to the closed state regardless of its phase.
func (h *Hub) ResetChest(chestID string) {
	h.post(command{kind: cmdResetChest, targetID: chestID})
}

// SpawnBoss schedules a boss outside the periodic spawner.
func (h *Hub) SpawnBoss(spec BossSpawn) {
	h.post(command{kind: cmdSpawnBoss, boss: spec})
}

// --- ranking ---------------------------------------------------------------

func (h *Hub) broadcastRanking() {
	msg := RankingUpdateMessage{
		Ver:     ProtocolVersion,
		Type:    EventRankingUpdate,
		Online:  h.onlineRanking(),
		AllTime: h.allTime,
	}
	h.broadcast(msg)
	h.publish(messaging.SubjectRanking, msg)
}

// startAllTimePoll reads the persistent store off the loop and posts the
// result back; the merged view is display-only and never feeds back into
// authoritative state.
func (h *Hub) startAllTimePoll() {
	if h.scores == nil {
		return
	}
	scores := h.scores
	go func() {
		top, err := scores.Top(allTimeTopN)
		if err != nil {
			h.log.Warnw("all-time ranking poll failed", "err", err)
			return
		}
		entries := make([]RankingEntry, 0, len(top))
		for _, e := range top {
			entries = append(entries, RankingEntry{Name: e.Name, Score: e.Score})
		}
		h.post(command{kind: cmdAllTimeLoaded, entries: entries})
	}()
}

// --- snapshots and helpers -------------------------------------------------

func (h *Hub) playersSnapshot() []Player {
	players := make([]Player, 0, len(h.players))
	for _, id := range h.order {
		if p, ok := h.players[id]; ok {
			players = append(players, p.snapshot())
		}
	}
	return players
}

func (h *Hub) chestsSnapshot() []Chest {
	chests := make([]Chest, 0, len(h.chests))
	for _, c := range h.chests {
		if c.Visible() {
			chests = append(chests, c.snapshot())
		}
	}
	return chests
}

func (h *Hub) bossesSnapshot() []BossSpawn {
	bosses := make([]BossSpawn, 0, len(h.bosses))
	for _, b := range h.bosses {
		if b.Visible() {
			bosses = append(bosses, b.snapshot())
		}
	}
	return bosses
}

func (h *Hub) pickQuestion(rarity string) (quiz.Question, bool) {
	if h.bank == nil {
		return quiz.Question{}, false
	}
	return h.bank.Pick(rarity)
}

func (h *Hub) sendQuestion(playerID, targetID, prompt string) {
	sub, ok := h.subscribers[playerID]
	if !ok {
		return
	}
	h.send(sub, QuestionIssuedMessage{
		Ver:         ProtocolVersion,
		Type:        EventQuestionIssued,
		TargetID:    targetID,
		Question:    prompt,
		TimeLimitMs: h.cfg.QuestionTimeLimit.Milliseconds(),
	})
}

func (h *Hub) sendAnswerResult(playerID, targetID string, res AnswerResult) {
	sub, ok := h.subscribers[playerID]
	if !ok {
		return
	}
	res.Ver = ProtocolVersion
	res.Type = EventAnswerResult
	res.TargetID = targetID
	h.send(sub, res)
}

func (h *Hub) publish(subject string, payload any) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(subject, payload); err != nil {
		h.log.Warnw("event publish failed", "subject", subject, "err", err)
	}
}

// --- diagnostics -----------------------------------------------------------

// Diagnostics is the operator view exposed on /diagnostics.
type Diagnostics struct {
	Players   int            `json:"players"`
	Chests    int            `json:"chests"`
	Bosses    int            `json:"bosses"`
	Commands  uint64         `json:"commandsProcessed"`
	UptimeMs  int64          `json:"uptimeMs"`
	Online    []RankingEntry `json:"online"`
}

// DiagnosticsSnapshot reads a consistent view through the event loop.
func (h *Hub) DiagnosticsSnapshot(ctx context.Context) (Diagnostics, bool) {
	reply := make(chan Diagnostics, 1)
	if !h.post(command{kind: cmdDiagnostics, diag: reply}) {
		return Diagnostics{}, false
	}
	select {
	case d := <-reply:
		return d, true
	case <-ctx.Done():
		return Diagnostics{}, false
	}
}

func (h *Hub) handleDiagnostics(cmd command) {
	if cmd.diag == nil {
		return
	}
	cmd.diag <- Diagnostics{
		Players:  len(h.players),
		Chests:   len(h.chests),
		Bosses:   len(h.bosses),
		Commands: h.processed.Load(),
		UptimeMs: time.Since(h.startedAt).Milliseconds(),
		Online:   h.onlineRanking(),
	}
}
