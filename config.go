package server

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
)

// Config tunes one world shard. Zero values fall back to the defaults in
// constants.go, so a Config{MapWidth: w, MapHeight: h} is enough to run.
type Config struct {
	MapWidth  float64
	MapHeight float64
	Padding   float64

	SpawnX      float64
	SpawnY      float64
	SpawnJitter float64

	QuestionTimeLimit time.Duration
	AnswerCooldown    time.Duration
	ChestRevealDelay  time.Duration

	BossName            string
	BossMaxHP           int
	BossDamagePerAnswer int
	BossCountdown       time.Duration
	BossTimeLimit       time.Duration
	// BossInterval schedules the periodic spawner; zero disables it and
	// bosses appear only through the admin surface.
	BossInterval time.Duration

	Chests []ChestSeed
}

func (c *Config) normalize() {
	if c.Padding <= 0 {
		c.Padding = DefaultPadding
	}
	if c.SpawnX == 0 && c.SpawnY == 0 {
		c.SpawnX = c.MapWidth / 2
		c.SpawnY = c.MapHeight / 2
	}
	if c.SpawnJitter <= 0 {
		c.SpawnJitter = defaultSpawnJitter
	}
	if c.QuestionTimeLimit <= 0 {
		c.QuestionTimeLimit = defaultQuestionTimeLimit
	}
	if c.AnswerCooldown <= 0 {
		c.AnswerCooldown = defaultAnswerCooldown
	}
	if c.ChestRevealDelay <= 0 {
		c.ChestRevealDelay = defaultChestRevealDelay
	}
	if c.BossName == "" {
		c.BossName = "Raid Boss"
	}
	if c.BossMaxHP <= 0 {
		c.BossMaxHP = defaultBossMaxHP
	}
	if c.BossDamagePerAnswer <= 0 {
		c.BossDamagePerAnswer = defaultBossDamagePerAnswer
	}
	if c.BossCountdown <= 0 {
		c.BossCountdown = defaultBossCountdown
	}
	if c.BossTimeLimit <= 0 {
		c.BossTimeLimit = defaultBossTimeLimit
	}
}

// Validate reports every problem with the shard configuration at once.
func (c Config) Validate() error {
	el := errors.NewErrorList()

	if c.MapWidth <= 0 {
		el.Add(fmt.Errorf("map width must be positive"))
	}
	if c.MapHeight <= 0 {
		el.Add(fmt.Errorf("map height must be positive"))
	}
	if c.Padding < 0 {
		el.Add(fmt.Errorf("padding must not be negative"))
	}
	if c.Padding*2 >= c.MapWidth || c.Padding*2 >= c.MapHeight {
		el.Add(fmt.Errorf("padding %v leaves no playable area", c.Padding))
	}
	for i, seed := range c.Chests {
		if _, ok := ParseRarity(string(seed.Rarity)); !ok && seed.Rarity != "" {
			el.Add(fmt.Errorf("chest %d: unknown rarity %q", i, seed.Rarity))
		}
	}

	return el.Err()
}
