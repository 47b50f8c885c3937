// Package quiz loads the question assets chests and bosses draw from.
// Questions live in JSON files, one array per file, validated at load.
package quiz

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pixil98/go-errors"
)

// Question is one timed prompt with its expected answer. The answer never
// travels to clients; grading happens server side through the judge.
type Question struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Answer string `json:"answer"`
	Rarity string `json:"rarity"`
}

// Validate reports every problem with the question at once.
func (q Question) Validate() error {
	el := errors.NewErrorList()
	if q.ID == "" {
		el.Add(fmt.Errorf("id is required"))
	}
	if q.Prompt == "" {
		el.Add(fmt.Errorf("prompt is required"))
	}
	if q.Answer == "" {
		el.Add(fmt.Errorf("answer is required"))
	}
	if q.Rarity == "" {
		el.Add(fmt.Errorf("rarity is required"))
	}
	return el.Err()
}

// Bank indexes questions by rarity tier. It is loaded once and then only
// read from the hub loop, so it carries no locking.
type Bank struct {
	byRarity map[string][]Question
	all      []Question
	rng      *rand.Rand
}

// NewBank builds a bank from already-validated questions.
func NewBank(questions []Question) *Bank {
	b := &Bank{
		byRarity: make(map[string][]Question),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, q := range questions {
		b.byRarity[q.Rarity] = append(b.byRarity[q.Rarity], q)
		b.all = append(b.all, q)
	}
	return b
}

// Load walks dir for .json files, each holding an array of questions.
// Duplicate ids across files are an error.
func Load(dir string) (*Bank, error) {
	var questions []Question
	seen := make(map[string]string)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		var batch []Question
		if err := json.Unmarshal(data, &batch); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		for _, q := range batch {
			if err := q.Validate(); err != nil {
				return fmt.Errorf("validating %s in %s: %w", q.ID, filepath.Base(path), err)
			}
			if prev, ok := seen[q.ID]; ok {
				return fmt.Errorf("duplicate question id %s in %s (first seen in %s)", q.ID, filepath.Base(path), prev)
			}
			seen[q.ID] = filepath.Base(path)
			questions = append(questions, q)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading questions from %s: %w", dir, err)
	}

	return NewBank(questions), nil
}

// Pick draws a random question from the given rarity pool, falling back
// to the full pool when the tier is empty.
func (b *Bank) Pick(rarity string) (Question, bool) {
	if b == nil {
		return Question{}, false
	}
	pool := b.byRarity[rarity]
	if len(pool) == 0 {
		pool = b.all
	}
	if len(pool) == 0 {
		return Question{}, false
	}
	return pool[b.rng.Intn(len(pool))], true
}

// Len returns the total number of loaded questions.
func (b *Bank) Len() int {
	if b == nil {
		return 0
	}
	return len(b.all)
}
