package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"tilequest/server/internal/judge"
	"tilequest/server/internal/quiz"
)

func testConfig() Config {
	return Config{
		MapWidth:          800,
		MapHeight:         600,
		SpawnX:            400,
		SpawnY:            300,
		QuestionTimeLimit: time.Minute,
		AnswerCooldown:    50 * time.Millisecond,
		ChestRevealDelay:  10 * time.Millisecond,
		BossMaxHP:         50,
		BossCountdown:     time.Minute,
		BossTimeLimit:     10 * time.Minute,
	}
}

func testBank() *quiz.Bank {
	return quiz.NewBank([]quiz.Question{
		{ID: "q-common", Prompt: "2+2?", Answer: "4", Rarity: "common"},
		{ID: "q-rare", Prompt: "3*3?", Answer: "9", Rarity: "rare"},
	})
}

func testHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	return NewHub(cfg, WithQuestions(testBank()))
}

// joinPlayer registers a fake connection directly through dispatch and
// drains the snapshot it was sent.
func joinPlayer(t *testing.T, h *Hub, id, name string) *subscriber {
	t.Helper()
	sub := newSubscriber(id, nil)
	h.dispatch(command{kind: cmdJoin, sub: sub, name: name})
	if _, ok := h.players[id]; !ok {
		t.Fatalf("player %s did not join", id)
	}
	drain(sub)
	return sub
}

func drain(sub *subscriber) {
	for {
		select {
		case <-sub.send:
		default:
			return
		}
	}
}

// queuedEvent scans the subscriber's queue for the next event of the given
// type without blocking.
func queuedEvent(t *testing.T, sub *subscriber, eventType string) []byte {
	t.Helper()
	for {
		select {
		case data := <-sub.send:
			var head struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &head); err != nil {
				t.Fatalf("malformed queued message: %v", err)
			}
			if head.Type == eventType {
				return data
			}
		default:
			t.Fatalf("no %q event queued", eventType)
		}
	}
}

func noQueuedEvent(t *testing.T, sub *subscriber, eventType string) {
	t.Helper()
	for {
		select {
		case data := <-sub.send:
			var head struct {
				Type string `json:"type"`
			}
			json.Unmarshal(data, &head)
			if head.Type == eventType {
				t.Fatalf("unexpected %q event queued", eventType)
			}
		default:
			return
		}
	}
}

// awaitEvent blocks until the running hub delivers the event.
func awaitEvent(t *testing.T, sub *subscriber, eventType string) []byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-sub.send:
			var head struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &head); err != nil {
				t.Fatalf("malformed message: %v", err)
			}
			if head.Type == eventType {
				return data
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", eventType)
		}
	}
}

func firstChest(t *testing.T, h *Hub) *chestState {
	t.Helper()
	for _, c := range h.chests {
		return c
	}
	t.Fatal("hub has no chest")
	return nil
}

func TestJoinSendsSnapshotThenBroadcasts(t *testing.T) {
	cfg := testConfig()
	cfg.Chests = []ChestSeed{{X: 100, Y: 100, Rarity: RarityCommon}}
	h := testHub(t, cfg)

	first := newSubscriber("player-1", nil)
	h.dispatch(command{kind: cmdJoin, sub: first, name: "ada"})

	raw := queuedEvent(t, first, EventWorldSnapshot)
	var snap WorldSnapshotMessage
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("bad snapshot: %v", err)
	}
	if snap.PlayerID != "player-1" {
		t.Fatalf("snapshot addressed to %q", snap.PlayerID)
	}
	if len(snap.Players) != 1 || len(snap.Chests) != 1 {
		t.Fatalf("snapshot shape wrong: %d players, %d chests", len(snap.Players), len(snap.Chests))
	}
	if snap.MapWidth != 800 || snap.MapHeight != 600 {
		t.Fatalf("snapshot map size (%v, %v)", snap.MapWidth, snap.MapHeight)
	}

	second := newSubscriber("player-2", nil)
	h.dispatch(command{kind: cmdJoin, sub: second, name: "grace"})

	raw = queuedEvent(t, first, EventPlayerJoined)
	var joined PlayerJoinedMessage
	json.Unmarshal(raw, &joined)
	if joined.Player.ID != "player-2" || joined.Player.Name != "grace" {
		t.Fatalf("unexpected join broadcast: %+v", joined.Player)
	}

	raw = queuedEvent(t, second, EventWorldSnapshot)
	json.Unmarshal(raw, &snap)
	if len(snap.Players) != 2 || snap.Players[0].ID != "player-1" {
		t.Fatalf("second snapshot should list players in arrival order: %+v", snap.Players)
	}
	// The joiner must not also receive its own join broadcast.
	noQueuedEvent(t, second, EventPlayerJoined)
}

func TestMoveClampsAndFansOut(t *testing.T) {
	h := testHub(t, testConfig())
	mover := joinPlayer(t, h, "player-1", "ada")
	watcher := joinPlayer(t, h, "player-2", "grace")
	drain(mover)

	h.dispatch(command{kind: cmdMove, playerID: "player-1", x: 5000, y: -20, direction: DirectionRight, moving: true})

	p := h.players["player-1"]
	if p.X != 800-DefaultPadding || p.Y != DefaultPadding {
		t.Fatalf("position not clamped: (%v, %v)", p.X, p.Y)
	}

	raw := queuedEvent(t, watcher, EventPlayerMoved)
	var moved PlayerMovedMessage
	json.Unmarshal(raw, &moved)
	if moved.PlayerID != "player-1" || !moved.Moving || moved.Direction != DirectionRight {
		t.Fatalf("unexpected move broadcast: %+v", moved)
	}
	noQueuedEvent(t, mover, EventPlayerMoved)
}

func TestLeaveReleasesLockAndResumesByName(t *testing.T) {
	cfg := testConfig()
	cfg.Chests = []ChestSeed{{X: 100, Y: 100, Rarity: RarityCommon}}
	h := testHub(t, cfg)
	joinPlayer(t, h, "player-1", "ada")
	watcher := joinPlayer(t, h, "player-2", "grace")

	c := firstChest(t, h)
	h.dispatch(command{kind: cmdInteractChest, playerID: "player-1", targetID: c.ID})
	if c.SolverID != "player-1" {
		t.Fatalf("lock not taken, solver %q", c.SolverID)
	}

	h.dispatch(command{kind: cmdMove, playerID: "player-1", x: 222, y: 333, direction: DirectionLeft, moving: false})
	h.dispatch(command{kind: cmdLeave, playerID: "player-1"})

	if c.SolverID != "" {
		t.Fatalf("departing player left the chest locked by %q", c.SolverID)
	}
	if _, ok := h.players["player-1"]; ok {
		t.Fatal("player still registered after leave")
	}
	queuedEvent(t, watcher, EventPlayerLeft)

	// Same name resumes the recorded position instead of respawning.
	rejoin := newSubscriber("player-3", nil)
	h.dispatch(command{kind: cmdJoin, sub: rejoin, name: "ada"})
	p := h.players["player-3"]
	if p.X != 222 || p.Y != 333 {
		t.Fatalf("returning player spawned at (%v, %v)", p.X, p.Y)
	}
}

func TestChestLockIsExclusive(t *testing.T) {
	cfg := testConfig()
	cfg.Chests = []ChestSeed{{X: 100, Y: 100, Rarity: RarityCommon}}
	h := testHub(t, cfg)
	holder := joinPlayer(t, h, "player-1", "ada")
	rival := joinPlayer(t, h, "player-2", "grace")

	c := firstChest(t, h)
	h.dispatch(command{kind: cmdInteractChest, playerID: "player-1", targetID: c.ID})

	raw := queuedEvent(t, holder, EventQuestionIssued)
	var q QuestionIssuedMessage
	json.Unmarshal(raw, &q)
	if q.TargetID != c.ID || q.Question == "" {
		t.Fatalf("bad question issue: %+v", q)
	}

	h.dispatch(command{kind: cmdInteractChest, playerID: "player-2", targetID: c.ID})
	raw = queuedEvent(t, rival, EventAnswerResult)
	var res AnswerResult
	json.Unmarshal(raw, &res)
	if res.Success || res.Reason != ReasonBusy {
		t.Fatalf("rival should be rejected busy, got %+v", res)
	}

	// The holder retrying gets the same question again, not a rejection.
	h.dispatch(command{kind: cmdInteractChest, playerID: "player-1", targetID: c.ID})
	queuedEvent(t, holder, EventQuestionIssued)

	// A late joiner sees the lock holder in the snapshot, so the chest
	// renders busy without an interact round trip.
	late := newSubscriber("player-3", nil)
	h.dispatch(command{kind: cmdJoin, sub: late, name: "lin"})
	raw = queuedEvent(t, late, EventWorldSnapshot)
	var snap WorldSnapshotMessage
	json.Unmarshal(raw, &snap)
	if len(snap.Chests) != 1 || snap.Chests[0].SolverID != "player-1" {
		t.Fatalf("snapshot should carry the solver, got %+v", snap.Chests)
	}
}

func TestCancelFreesTheChest(t *testing.T) {
	cfg := testConfig()
	cfg.Chests = []ChestSeed{{X: 100, Y: 100, Rarity: RarityCommon}}
	h := testHub(t, cfg)
	joinPlayer(t, h, "player-1", "ada")
	rival := joinPlayer(t, h, "player-2", "grace")

	c := firstChest(t, h)
	h.dispatch(command{kind: cmdInteractChest, playerID: "player-1", targetID: c.ID})
	h.dispatch(command{kind: cmdCancelChest, playerID: "player-1", targetID: c.ID})
	if c.SolverID != "" {
		t.Fatal("cancel did not release the lock")
	}

	h.dispatch(command{kind: cmdInteractChest, playerID: "player-2", targetID: c.ID})
	queuedEvent(t, rival, EventQuestionIssued)
}

func beginTicket(t *testing.T, h *Hub, playerID, targetID string) beginAnswer {
	t.Helper()
	ch := make(chan beginAnswer, 1)
	h.dispatch(command{kind: cmdBeginAnswer, playerID: playerID, targetID: targetID, begin: ch})
	return <-ch
}

func resolveVerdict(t *testing.T, h *Hub, playerID, targetID string, gen uint64, correct bool) AnswerResult {
	t.Helper()
	ch := make(chan AnswerResult, 1)
	h.dispatch(command{kind: cmdResolveAnswer, playerID: playerID, targetID: targetID, generation: gen, correct: correct, reply: ch})
	return <-ch
}

func TestChestAnswerLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.Chests = []ChestSeed{{X: 100, Y: 100, Rarity: RarityCommon}}
	h := testHub(t, cfg)
	solver := joinPlayer(t, h, "player-1", "ada")

	c := firstChest(t, h)
	h.dispatch(command{kind: cmdInteractChest, playerID: "player-1", targetID: c.ID})
	drain(solver)

	ticket := beginTicket(t, h, "player-1", c.ID)
	if !ticket.ok || ticket.expected != "4" {
		t.Fatalf("begin should hand out the reserved question, got %+v", ticket)
	}

	// Wrong verdict keeps the lock and starts the cooldown.
	res := resolveVerdict(t, h, "player-1", c.ID, ticket.generation, false)
	if res.Success || res.Reason != ReasonIncorrect || res.CooldownMs <= 0 {
		t.Fatalf("wrong answer result: %+v", res)
	}
	if c.SolverID != "player-1" {
		t.Fatal("wrong answer must not release the lock")
	}
	if retry := beginTicket(t, h, "player-1", c.ID); retry.ok || retry.reason != ReasonCooldown {
		t.Fatalf("retry during cooldown should be rejected, got %+v", retry)
	}

	time.Sleep(cfg.AnswerCooldown + 10*time.Millisecond)
	ticket = beginTicket(t, h, "player-1", c.ID)
	if !ticket.ok {
		t.Fatalf("cooldown should have elapsed, got %+v", ticket)
	}

	res = resolveVerdict(t, h, "player-1", c.ID, ticket.generation, true)
	if !res.Success {
		t.Fatalf("correct answer rejected: %+v", res)
	}
	if c.State != ChestOpening {
		t.Fatalf("chest should be opening, is %q", c.State)
	}
	if c.SolverID != "" {
		t.Fatal("lock should release at the opening transition")
	}
	if h.players["player-1"].Score != 1 {
		t.Fatalf("score not awarded, got %d", h.players["player-1"].Score)
	}
	queuedEvent(t, solver, EventChestOpened)

	// The reveal timer posts the removal command; pump it by hand.
	select {
	case cmd := <-h.commands:
		h.dispatch(cmd)
	case <-time.After(time.Second):
		t.Fatal("reveal timer never fired")
	}
	if c.State != ChestRemoved {
		t.Fatalf("chest should be removed, is %q", c.State)
	}
	queuedEvent(t, solver, EventChestDisappeared)
	if len(h.chestsSnapshot()) != 0 {
		t.Fatal("removed chest still visible in snapshots")
	}
	if _, ok := h.chests[c.ID]; ok {
		t.Fatal("removed chest should leave the registry")
	}
}

func TestStaleVerdictIsRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Chests = []ChestSeed{{X: 100, Y: 100, Rarity: RarityCommon}}
	h := testHub(t, cfg)
	joinPlayer(t, h, "player-1", "ada")

	c := firstChest(t, h)
	h.dispatch(command{kind: cmdInteractChest, playerID: "player-1", targetID: c.ID})
	ticket := beginTicket(t, h, "player-1", c.ID)

	// The lock moves on while the judge was grading.
	h.dispatch(command{kind: cmdCancelChest, playerID: "player-1", targetID: c.ID})

	res := resolveVerdict(t, h, "player-1", c.ID, ticket.generation, true)
	if res.Success || res.Reason != ReasonExpired {
		t.Fatalf("stale verdict should be rejected, got %+v", res)
	}
	if c.State != ChestClosed || h.players["player-1"].Score != 0 {
		t.Fatal("stale verdict must not mutate the chest or the score")
	}
}

func TestStaleExpiryTimerIsNoOp(t *testing.T) {
	cfg := testConfig()
	cfg.Chests = []ChestSeed{{X: 100, Y: 100, Rarity: RarityCommon}}
	h := testHub(t, cfg)
	solver := joinPlayer(t, h, "player-1", "ada")

	c := firstChest(t, h)
	h.dispatch(command{kind: cmdInteractChest, playerID: "player-1", targetID: c.ID})
	staleGen := c.lockGen
	h.dispatch(command{kind: cmdCancelChest, playerID: "player-1", targetID: c.ID})
	drain(solver)

	h.dispatch(command{kind: cmdChestExpired, targetID: c.ID, generation: staleGen})
	if c.State != ChestClosed {
		t.Fatalf("stale expiry changed chest state to %q", c.State)
	}
	noQueuedEvent(t, solver, EventAnswerResult)
}

func TestQuestionTimeoutNotifiesSolver(t *testing.T) {
	cfg := testConfig()
	cfg.Chests = []ChestSeed{{X: 100, Y: 100, Rarity: RarityCommon}}
	h := testHub(t, cfg)
	solver := joinPlayer(t, h, "player-1", "ada")

	c := firstChest(t, h)
	h.dispatch(command{kind: cmdInteractChest, playerID: "player-1", targetID: c.ID})
	drain(solver)

	h.dispatch(command{kind: cmdChestExpired, targetID: c.ID, generation: c.lockGen})
	if c.SolverID != "" {
		t.Fatal("timeout did not release the lock")
	}
	raw := queuedEvent(t, solver, EventAnswerResult)
	var res AnswerResult
	json.Unmarshal(raw, &res)
	if res.Success || res.Reason != ReasonTimeout {
		t.Fatalf("expected timeout result, got %+v", res)
	}
}

func TestAdminChestPlaceAndReset(t *testing.T) {
	h := testHub(t, testConfig())
	sub := joinPlayer(t, h, "player-1", "ada")

	h.dispatch(command{kind: cmdPlaceChest, x: 50, y: 60, rarity: RarityEpic})
	raw := queuedEvent(t, sub, EventChestAppeared)
	var appeared ChestAppearedMessage
	json.Unmarshal(raw, &appeared)
	if appeared.Chest.X != 50 || appeared.Chest.Rarity != RarityEpic {
		t.Fatalf("unexpected placed chest: %+v", appeared.Chest)
	}

	c := h.chests[appeared.Chest.ID]
	c.State = ChestRemoved
	h.dispatch(command{kind: cmdResetChest, targetID: c.ID})
	if c.State != ChestClosed {
		t.Fatalf("reset should close the chest, is %q", c.State)
	}
	queuedEvent(t, sub, EventChestAppeared)
}

func activeBoss(t *testing.T, h *Hub, sub *subscriber) *bossState {
	t.Helper()
	h.spawnBoss(BossSpawn{Name: "Lich", X: 200, Y: 200})
	var b *bossState
	for _, candidate := range h.bosses {
		b = candidate
	}
	if b == nil {
		t.Fatal("boss did not spawn")
	}
	if b.State != BossCountdown || b.CurrentHP != b.MaxHP {
		t.Fatalf("fresh boss in wrong state: %+v", b.BossSpawn)
	}
	queuedEvent(t, sub, EventBossCountdown)

	h.dispatch(command{kind: cmdBossActivate, targetID: b.ID, generation: b.lifeGen})
	if b.State != BossActive {
		t.Fatalf("boss did not activate, state %q", b.State)
	}
	queuedEvent(t, sub, EventBossUpdated)
	return b
}

func TestBossDefeatAfterEnoughAnswers(t *testing.T) {
	h := testHub(t, testConfig())
	solver := joinPlayer(t, h, "player-1", "ada")
	b := activeBoss(t, h, solver)

	// 50 hp at 10 damage per correct answer means exactly five rounds.
	for round := 1; round <= 5; round++ {
		h.dispatch(command{kind: cmdInteractBoss, playerID: "player-1", targetID: b.ID})
		queuedEvent(t, solver, EventQuestionIssued)
		ticket := beginTicket(t, h, "player-1", b.ID)
		if !ticket.ok {
			t.Fatalf("round %d: begin rejected: %+v", round, ticket)
		}
		res := resolveVerdict(t, h, "player-1", b.ID, ticket.generation, true)
		if !res.Success {
			t.Fatalf("round %d: verdict rejected: %+v", round, res)
		}
		if want := b.MaxHP - round*defaultBossDamagePerAnswer; b.CurrentHP != want {
			t.Fatalf("round %d: hp %d, want %d", round, b.CurrentHP, want)
		}
	}

	if b.State != BossDefeated {
		t.Fatalf("boss should be defeated, state %q", b.State)
	}
	raw := queuedEvent(t, solver, EventBossDefeated)
	var removed BossRemovedMessage
	json.Unmarshal(raw, &removed)
	if removed.BossID != b.ID || removed.State != BossDefeated {
		t.Fatalf("bad defeat broadcast: %+v", removed)
	}
	if h.players["player-1"].Score != 5 {
		t.Fatalf("score should be 5, got %d", h.players["player-1"].Score)
	}
	if _, ok := h.bosses[b.ID]; ok {
		t.Fatal("defeated boss should leave the registry")
	}

	// A defeated boss takes no further interactions.
	h.dispatch(command{kind: cmdInteractBoss, playerID: "player-1", targetID: b.ID})
	raw = queuedEvent(t, solver, EventAnswerResult)
	var res AnswerResult
	json.Unmarshal(raw, &res)
	if res.Reason != ReasonUnavailable {
		t.Fatalf("defeated boss should be unavailable, got %+v", res)
	}
}

func TestBossCountdownRejectsInteraction(t *testing.T) {
	h := testHub(t, testConfig())
	solver := joinPlayer(t, h, "player-1", "ada")
	h.spawnBoss(BossSpawn{X: 200, Y: 200})
	var b *bossState
	for _, candidate := range h.bosses {
		b = candidate
	}
	drain(solver)

	h.dispatch(command{kind: cmdInteractBoss, playerID: "player-1", targetID: b.ID})
	raw := queuedEvent(t, solver, EventAnswerResult)
	var res AnswerResult
	json.Unmarshal(raw, &res)
	if res.Reason != ReasonUnavailable {
		t.Fatalf("countdown boss should be unavailable, got %+v", res)
	}
}

func TestBossClockExpiry(t *testing.T) {
	h := testHub(t, testConfig())
	solver := joinPlayer(t, h, "player-1", "ada")
	b := activeBoss(t, h, solver)

	h.dispatch(command{kind: cmdInteractBoss, playerID: "player-1", targetID: b.ID})
	drain(solver)

	h.dispatch(command{kind: cmdBossClockExpired, targetID: b.ID, generation: b.lifeGen})
	if b.State != BossExpired {
		t.Fatalf("boss should be expired, state %q", b.State)
	}
	raw := queuedEvent(t, solver, EventAnswerResult)
	var res AnswerResult
	json.Unmarshal(raw, &res)
	if res.Reason != ReasonTimeout {
		t.Fatalf("mid-solve expiry should time the solver out, got %+v", res)
	}
	queuedEvent(t, solver, EventBossExpired)
	if _, ok := h.bosses[b.ID]; ok {
		t.Fatal("expired boss should leave the registry")
	}

	// The expiry already advanced the lifecycle; replaying it is a no-op.
	h.dispatch(command{kind: cmdBossClockExpired, targetID: b.ID, generation: b.lifeGen - 1})
	if b.State != BossExpired {
		t.Fatalf("replayed expiry changed state to %q", b.State)
	}
}

func TestRankingTiesKeepArrivalOrder(t *testing.T) {
	h := testHub(t, testConfig())
	joinPlayer(t, h, "player-1", "ada")
	joinPlayer(t, h, "player-2", "grace")
	joinPlayer(t, h, "player-3", "alan")

	h.players["player-2"].Score = 3
	ranking := h.onlineRanking()
	if ranking[0].ID != "player-2" {
		t.Fatalf("leader wrong: %+v", ranking)
	}
	if ranking[1].ID != "player-1" || ranking[2].ID != "player-3" {
		t.Fatalf("ties should keep arrival order: %+v", ranking)
	}
}

func TestSubmitAnswerThroughRunningHub(t *testing.T) {
	cfg := testConfig()
	cfg.Chests = []ChestSeed{{X: 100, Y: 100, Rarity: RarityCommon}}
	h := testHub(t, cfg)
	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	sub := newSubscriber("player-1", nil)
	h.post(command{kind: cmdJoin, sub: sub, name: "ada"})
	raw := awaitEvent(t, sub, EventWorldSnapshot)
	var snap WorldSnapshotMessage
	json.Unmarshal(raw, &snap)
	chestID := snap.Chests[0].ID

	h.post(command{kind: cmdInteractChest, playerID: "player-1", targetID: chestID})
	awaitEvent(t, sub, EventQuestionIssued)

	ctx := context.Background()
	res := h.SubmitAnswer(ctx, judge.Key{}, "player-1", chestID, " 4 ")
	if !res.Success {
		t.Fatalf("correct answer rejected: %+v", res)
	}
	awaitEvent(t, sub, EventChestOpened)
	awaitEvent(t, sub, EventChestDisappeared)

	// Grading a target that no longer accepts answers is a clean rejection.
	res = h.SubmitAnswer(ctx, judge.Key{}, "player-1", chestID, "4")
	if res.Success || res.Reason != ReasonUnavailable {
		t.Fatalf("answer against an opened chest should be unavailable, got %+v", res)
	}
}

func TestDiagnosticsCountsRegistry(t *testing.T) {
	cfg := testConfig()
	cfg.Chests = []ChestSeed{{X: 100, Y: 100, Rarity: RarityCommon}}
	h := testHub(t, cfg)
	joinPlayer(t, h, "player-1", "ada")

	ch := make(chan Diagnostics, 1)
	h.dispatch(command{kind: cmdDiagnostics, diag: ch})
	d := <-ch
	if d.Players != 1 || d.Chests != 1 || d.Bosses != 0 {
		t.Fatalf("unexpected diagnostics: %+v", d)
	}
	if d.Commands == 0 {
		t.Fatal("command counter never advanced")
	}
}
