package server

import (
	"time"

	"tilequest/server/internal/quiz"
)

// BossPhase is the lifecycle phase of a raid boss spawn. defeated and
// expired are terminal; both trigger a removal broadcast.
type BossPhase string

const (
	BossCountdown BossPhase = "countdown"
	BossActive    BossPhase = "active"
	BossDefeated  BossPhase = "defeated"
	BossExpired   BossPhase = "expired"
)

// BossSpawn is the wire view of a raid boss.
type BossSpawn struct {
	ID               string    `json:"id"`
	X                float64   `json:"x"`
	Y                float64   `json:"y"`
	Name             string    `json:"name"`
	MaxHP            int       `json:"maxHp"`
	CurrentHP        int       `json:"currentHp"`
	TimeLimitSeconds int       `json:"timeLimitSeconds"`
	SpawnedAt        int64     `json:"spawnedAt"`
	State            BossPhase `json:"state"`
}

// Visible reports whether clients should still see the boss.
func (b BossSpawn) Visible() bool {
	return b.State == BossCountdown || b.State == BossActive
}

// bossState mirrors chestState: the solver lock plus generation-guarded
// timers. The clock timer bounds the active phase; the expiry timer bounds
// one issued question.
type bossState struct {
	BossSpawn
	solverID      string
	question      quiz.Question
	cooldownUntil time.Time

	lockGen uint64
	lifeGen uint64
	expiry  *time.Timer
	clock   *time.Timer
}

func (b *bossState) releaseLock() {
	b.solverID = ""
	b.question = quiz.Question{}
	b.cooldownUntil = time.Time{}
	b.lockGen++
	if b.expiry != nil {
		b.expiry.Stop()
		b.expiry = nil
	}
}

// stopClock cancels the active-phase time limit.
func (b *bossState) stopClock() {
	b.lifeGen++
	if b.clock != nil {
		b.clock.Stop()
		b.clock = nil
	}
}

func (b *bossState) snapshot() BossSpawn {
	return b.BossSpawn
}

// applyDamage reduces hp without ever dropping below zero and reports
// whether this call was the one that emptied it.
func (b *bossState) applyDamage(amount int) bool {
	if b.State != BossActive || amount <= 0 || b.CurrentHP <= 0 {
		return false
	}
	b.CurrentHP -= amount
	if b.CurrentHP <= 0 {
		b.CurrentHP = 0
		return true
	}
	return false
}
