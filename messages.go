package server

// Wire protocol: JSON envelopes over the websocket push channel, plus the
// synchronous /answer HTTP exchange. Every server-to-client payload
// carries Ver and Type; clients treat each event as the latest snapshot
// delta and never assume missed events are replayed.

// Envelope is the single inbound message shape. Unused fields stay
// zero; Type selects the handler from the dispatch table in ws.go.
type Envelope struct {
	Type      string  `json:"type"`
	Name      string  `json:"name,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction"`
	Moving    bool    `json:"isMoving"`
	ChestID   string  `json:"chestId,omitempty"`
	BossID    string  `json:"bossId,omitempty"`
	SentAt    int64   `json:"sentAt,omitempty"`
}

type WorldSnapshotMessage struct {
	Ver        int            `json:"ver"`
	Type       string         `json:"type"`
	PlayerID   string         `json:"playerId"`
	Players    []Player       `json:"players"`
	Chests     []Chest        `json:"chests"`
	Bosses     []BossSpawn    `json:"bosses"`
	Ranking    []RankingEntry `json:"ranking,omitempty"`
	MapWidth   float64        `json:"mapWidth"`
	MapHeight  float64        `json:"mapHeight"`
	ServerTime int64          `json:"serverTime"`
}

type PlayerJoinedMessage struct {
	Ver    int    `json:"ver"`
	Type   string `json:"type"`
	Player Player `json:"player"`
}

type PlayerLeftMessage struct {
	Ver      int    `json:"ver"`
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
}

type PlayerMovedMessage struct {
	Ver       int       `json:"ver"`
	Type      string    `json:"type"`
	PlayerID  string    `json:"playerId"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Direction Direction `json:"direction"`
	Moving    bool      `json:"isMoving"`
}

type PlayerUpdatedMessage struct {
	Ver    int    `json:"ver"`
	Type   string `json:"type"`
	Player Player `json:"player"`
}

type QuestionIssuedMessage struct {
	Ver         int    `json:"ver"`
	Type        string `json:"type"`
	TargetID    string `json:"targetId"`
	Question    string `json:"question"`
	TimeLimitMs int64  `json:"timeLimitMs"`
}

// AnswerResult is the grading outcome returned by the /answer exchange and
// unicast for rejections and timeouts on the push channel.
type AnswerResult struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type,omitempty"`
	TargetID   string `json:"targetId,omitempty"`
	Success    bool   `json:"success"`
	Reason     string `json:"reason,omitempty"`
	CooldownMs int64  `json:"cooldownMs,omitempty"`
}

// Rejection and failure reasons surfaced to clients. Logical conflicts are
// never fatal; the requester just sees the reason string.
const (
	ReasonBusy          = "busy"
	ReasonUnavailable   = "unavailable"
	ReasonNotSolver     = "not-solver"
	ReasonCooldown      = "cooldown"
	ReasonIncorrect     = "incorrect"
	ReasonTimeout       = "timeout"
	ReasonExpired       = "expired"
	ReasonGradingFailed = "grading-failed"
)

type ChestAppearedMessage struct {
	Ver   int    `json:"ver"`
	Type  string `json:"type"`
	Chest Chest  `json:"chest"`
}

type ChestOpenedMessage struct {
	Ver      int         `json:"ver"`
	Type     string      `json:"type"`
	ChestID  string      `json:"chestId"`
	SolverID string      `json:"solverId"`
	Rarity   ChestRarity `json:"rarity"`
}

type ChestDisappearedMessage struct {
	Ver     int    `json:"ver"`
	Type    string `json:"type"`
	ChestID string `json:"chestId"`
}

type BossCountdownMessage struct {
	Ver            int       `json:"ver"`
	Type           string    `json:"type"`
	Boss           BossSpawn `json:"boss"`
	SecondsToSpawn int64     `json:"secondsToSpawn"`
}

type BossUpdatedMessage struct {
	Ver  int       `json:"ver"`
	Type string    `json:"type"`
	Boss BossSpawn `json:"boss"`
}

type BossRemovedMessage struct {
	Ver    int       `json:"ver"`
	Type   string    `json:"type"`
	BossID string    `json:"bossId"`
	State  BossPhase `json:"state"`
}

type RankingUpdateMessage struct {
	Ver     int            `json:"ver"`
	Type    string         `json:"type"`
	Online  []RankingEntry `json:"online"`
	AllTime []RankingEntry `json:"allTime,omitempty"`
}

// Event type strings, matching the canonical catalog.
const (
	EventJoin             = "join"
	EventMove             = "move"
	EventInteractChest    = "interact-chest"
	EventCancelChest      = "cancel-chest"
	EventInteractBoss     = "interact-boss"
	EventCancelBoss       = "cancel-boss"
	EventWorldSnapshot    = "world-snapshot"
	EventPlayerJoined     = "player-joined"
	EventPlayerLeft       = "player-left"
	EventPlayerMoved      = "player-moved"
	EventPlayerUpdated    = "player-updated"
	EventQuestionIssued   = "question-issued"
	EventAnswerResult     = "answer-result"
	EventChestAppeared    = "chest-appeared"
	EventChestOpened      = "chest-opened"
	EventChestDisappeared = "chest-disappeared"
	EventBossCountdown    = "boss-spawn-countdown"
	EventBossUpdated      = "boss-updated"
	EventBossDefeated     = "boss-defeated"
	EventBossExpired      = "boss-expired"
	EventRankingUpdate    = "ranking-update"
)
