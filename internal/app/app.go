// Package app wires the world server together: configuration, logging,
// map loading, the question bank, grading, persistence, messaging and the
// HTTP surface. The cmd/server binary is a thin shell around Run.
package app

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pixil98/go-errors"

	server "tilequest/server"
	"tilequest/server/internal/judge"
	"tilequest/server/internal/messaging"
	"tilequest/server/internal/quiz"
	"tilequest/server/internal/store"
	"tilequest/server/internal/tilemap"
	"tilequest/server/logging"
)

// FileConfig is the on-disk configuration document. Only Addr, MapPath and
// QuestionDir are required; everything else degrades gracefully when empty.
type FileConfig struct {
	Addr        string `json:"addr"`
	MapPath     string `json:"mapPath"`
	QuestionDir string `json:"questionDir"`
	RankingPath string `json:"rankingPath"`
	JudgeURL    string `json:"judgeUrl"`
	NATSURL     string `json:"natsUrl"`
	LogPath     string `json:"logPath"`
	Debug       bool   `json:"debug"`

	QuestionTimeLimitSeconds int    `json:"questionTimeLimitSeconds"`
	AnswerCooldownSeconds    int    `json:"answerCooldownSeconds"`
	ChestRevealDelayMs       int    `json:"chestRevealDelayMs"`
	BossName                 string `json:"bossName"`
	BossMaxHP                int    `json:"bossMaxHp"`
	BossDamagePerAnswer      int    `json:"bossDamagePerAnswer"`
	BossCountdownSeconds     int    `json:"bossCountdownSeconds"`
	BossTimeLimitSeconds     int    `json:"bossTimeLimitSeconds"`
	BossIntervalSeconds      int    `json:"bossIntervalSeconds"`
}

// Validate reports every configuration problem at once.
func (c FileConfig) Validate() error {
	el := errors.NewErrorList()
	if c.Addr == "" {
		el.Add(fmt.Errorf("addr must be set"))
	}
	if c.MapPath == "" {
		el.Add(fmt.Errorf("mapPath must be set"))
	}
	if c.QuestionDir == "" {
		el.Add(fmt.Errorf("questionDir must be set"))
	}
	return el.Err()
}

func loadFileConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Run starts the server and blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives, then shuts the HTTP listener down gracefully.
func Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tilequest-server", flag.ContinueOnError)
	configPath := fs.String("config", "config.json", "path to the configuration file")
	addr := fs.String("addr", "", "listen address, overrides the config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadFileConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.Init(cfg.LogPath, cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Sync()

	mapData, err := tilemap.Load(os.DirFS(filepath.Dir(cfg.MapPath)), filepath.Base(cfg.MapPath))
	if err != nil {
		return err
	}
	log.Infow("map loaded", "path", cfg.MapPath,
		"width", mapData.Width, "height", mapData.Height,
		"collisions", len(mapData.Collisions), "chests", len(mapData.Chests))

	bank, err := quiz.Load(cfg.QuestionDir)
	if err != nil {
		return err
	}
	log.Infow("question bank loaded", "dir", cfg.QuestionDir, "questions", bank.Len())

	world := worldConfig(cfg, mapData)
	if err := world.Validate(); err != nil {
		return fmt.Errorf("invalid world: %w", err)
	}

	opts := []server.Option{
		server.WithLogger(log),
		server.WithQuestions(bank),
	}

	if cfg.RankingPath != "" {
		scores, err := store.NewFileStore(cfg.RankingPath)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithScores(scores))
	} else {
		log.Warnw("no ranking path configured, all-time scores disabled")
	}

	var grader judge.Judge = judge.Key{}
	if cfg.JudgeURL != "" {
		grader = judge.NewHTTP(cfg.JudgeURL)
		log.Infow("using external judge", "url", cfg.JudgeURL)
	}

	if cfg.NATSURL != "" {
		pub, err := messaging.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect messaging: %w", err)
		}
		defer pub.Close()
		opts = append(opts, server.WithPublisher(pub))
	}

	hub := server.NewHub(world, opts...)
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	srv := &http.Server{Addr: cfg.Addr, Handler: server.NewHandler(hub, grader)}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", cfg.Addr, "map", cfg.MapPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Infow("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

// worldConfig maps the file settings and map document onto a shard config.
// Map geometry always comes from the TMX document.
func worldConfig(cfg FileConfig, data *tilemap.Data) server.Config {
	world := server.Config{
		MapWidth:            data.Width,
		MapHeight:           data.Height,
		QuestionTimeLimit:   time.Duration(cfg.QuestionTimeLimitSeconds) * time.Second,
		AnswerCooldown:      time.Duration(cfg.AnswerCooldownSeconds) * time.Second,
		ChestRevealDelay:    time.Duration(cfg.ChestRevealDelayMs) * time.Millisecond,
		BossName:            cfg.BossName,
		BossMaxHP:           cfg.BossMaxHP,
		BossDamagePerAnswer: cfg.BossDamagePerAnswer,
		BossCountdown:       time.Duration(cfg.BossCountdownSeconds) * time.Second,
		BossTimeLimit:       time.Duration(cfg.BossTimeLimitSeconds) * time.Second,
		BossInterval:        time.Duration(cfg.BossIntervalSeconds) * time.Second,
	}
	if data.Spawn != nil {
		world.SpawnX, world.SpawnY = data.Spawn.X, data.Spawn.Y
	}
	for _, c := range data.Chests {
		rarity, ok := server.ParseRarity(c.Rarity)
		if !ok {
			rarity = server.RarityCommon
		}
		world.Chests = append(world.Chests, server.ChestSeed{X: c.X, Y: c.Y, Rarity: rarity})
	}
	return world
}
