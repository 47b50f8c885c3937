package server

import (
	"time"

	"tilequest/server/internal/quiz"
)

// ChestRarity grades a chest and selects the question pool it draws from.
type ChestRarity string

const (
	RarityCommon    ChestRarity = "common"
	RarityRare      ChestRarity = "rare"
	RarityEpic      ChestRarity = "epic"
	RarityLegendary ChestRarity = "legendary"
)

// ParseRarity validates a rarity string from config or admin input.
func ParseRarity(value string) (ChestRarity, bool) {
	switch ChestRarity(value) {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return ChestRarity(value), true
	default:
		return "", false
	}
}

// ChestState is the lifecycle phase of a chest. closed -> opening ->
// removed is one way; only an explicit admin reset returns a chest to
// closed.
type ChestState string

const (
	ChestClosed  ChestState = "closed"
	ChestOpening ChestState = "opening"
	ChestRemoved ChestState = "removed"
)

// Chest is the wire view of a treasure chest. SolverID is set while a
// player holds the question lock, so late joiners can render the chest
// as busy from the snapshot alone.
type Chest struct {
	ID       string      `json:"id"`
	X        float64     `json:"x"`
	Y        float64     `json:"y"`
	Rarity   ChestRarity `json:"rarity"`
	State    ChestState  `json:"state"`
	SolverID string      `json:"solverId,omitempty"`
}

// Visible reports whether clients should still see the chest.
func (c Chest) Visible() bool {
	return c.State != ChestRemoved
}

// chestState is the registry-side record for a chest. The embedded
// SolverID is the concurrency-control mechanism: while set, competing
// interact requests are rejected rather than blocked. The generation
// counters invalidate timers that fire after the state they guard has
// already transitioned away.
type chestState struct {
	Chest
	question      quiz.Question
	cooldownUntil time.Time

	lockGen uint64
	lifeGen uint64
	expiry  *time.Timer
	reveal  *time.Timer
}

// releaseLock clears the solver and cancels the question-expiry timer.
func (c *chestState) releaseLock() {
	c.SolverID = ""
	c.question = quiz.Question{}
	c.cooldownUntil = time.Time{}
	c.lockGen++
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
}

func (c *chestState) snapshot() Chest {
	return c.Chest
}

// ChestSeed places a chest at map load.
type ChestSeed struct {
	X      float64
	Y      float64
	Rarity ChestRarity
}
