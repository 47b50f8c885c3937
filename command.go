package server

// commandKind keys the hub dispatch switch. Wire events, timer fires, and
// admin operations all become commands so the registry only ever mutates
// on the run loop.
type commandKind int

const (
	cmdJoin commandKind = iota
	cmdLeave
	cmdMove
	cmdInteractChest
	cmdCancelChest
	cmdInteractBoss
	cmdCancelBoss
	cmdBeginAnswer
	cmdResolveAnswer
	cmdChestExpired
	cmdChestRevealed
	cmdBossActivate
	cmdBossClockExpired
	cmdBossQuestionExpired
	cmdBossAutoSpawn
	cmdPlaceChest
	cmdResetChest
	cmdSpawnBoss
	cmdAllTimeLoaded
	cmdDiagnostics
)

// command carries one event into the hub loop. Unused fields stay zero;
// generation pins timer fires and graded answers to the lock or lifecycle
// state they were issued against.
type command struct {
	kind       commandKind
	sub        *subscriber
	playerID   string
	name       string
	x          float64
	y          float64
	direction  Direction
	moving     bool
	targetID   string
	generation uint64
	correct    bool
	rarity     ChestRarity
	boss       BossSpawn
	entries    []RankingEntry

	begin chan beginAnswer
	reply chan AnswerResult
	diag  chan Diagnostics
}
