package server

import "time"

const (
	// ProtocolVersion guards clients against stale wire contracts.
	ProtocolVersion = 1

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
	readLimit  = 1 << 20

	sendQueueSize    = 64
	commandQueueSize = 256

	DefaultMoveSpeed = 200.0 // pixels per second
	PlayerWidth      = 32.0
	PlayerHeight     = 32.0
	DefaultPadding   = 16.0

	defaultSpawnJitter = 24.0

	defaultQuestionTimeLimit = 20 * time.Second
	defaultAnswerCooldown    = 3 * time.Second
	defaultChestRevealDelay  = 2500 * time.Millisecond

	defaultBossDamagePerAnswer = 10
	defaultBossCountdown       = 2 * time.Minute
	defaultBossTimeLimit       = 10 * time.Minute
	defaultBossMaxHP           = 50

	rankingInterval     = 5 * time.Second
	allTimePollInterval = 30 * time.Second
	allTimeTopN         = 10
)
