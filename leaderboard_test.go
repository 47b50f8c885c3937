package server

import "testing"

func TestRankOrdersByScoreDescending(t *testing.T) {
	ranked := Rank([]RankingEntry{
		{ID: "a", Score: 1},
		{ID: "b", Score: 5},
		{ID: "c", Score: 3},
	})
	if ranked[0].ID != "b" || ranked[1].ID != "c" || ranked[2].ID != "a" {
		t.Fatalf("unexpected order: %+v", ranked)
	}
}

func TestRankKeepsInputOrderOnTies(t *testing.T) {
	ranked := Rank([]RankingEntry{
		{ID: "first", Score: 2},
		{ID: "second", Score: 2},
		{ID: "third", Score: 2},
	})
	for i, want := range []string{"first", "second", "third"} {
		if ranked[i].ID != want {
			t.Fatalf("tie order broken at %d: %+v", i, ranked)
		}
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	input := []RankingEntry{{ID: "a", Score: 1}, {ID: "b", Score: 9}}
	Rank(input)
	if input[0].ID != "a" {
		t.Fatal("input slice was reordered")
	}
}
