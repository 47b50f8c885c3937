package server

import "sort"

// RankingEntry is a derived leaderboard row; it is recomputed from player
// scores and never separately owned.
type RankingEntry struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Rank orders entries by score descending. The sort is stable so players
// with equal scores keep their input order; with arrival-ordered input the
// ranking stays put frame to frame instead of flickering on ties.
func Rank(entries []RankingEntry) []RankingEntry {
	ranked := make([]RankingEntry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// onlineRanking derives the live leaderboard from the registry in arrival
// order, which is what makes the tie-break deterministic.
func (h *Hub) onlineRanking() []RankingEntry {
	entries := make([]RankingEntry, 0, len(h.order))
	for _, id := range h.order {
		p, ok := h.players[id]
		if !ok {
			continue
		}
		entries = append(entries, RankingEntry{ID: p.ID, Name: p.Name, Score: p.Score})
	}
	return Rank(entries)
}
