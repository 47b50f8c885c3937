package app

import (
	"strings"
	"testing"
)

func TestFileConfigValidate(t *testing.T) {
	err := FileConfig{}.Validate()
	if err == nil {
		t.Fatal("empty config should not validate")
	}
	for _, want := range []string{"addr", "mapPath", "questionDir"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}

	ok := FileConfig{Addr: ":8080", MapPath: "world.tmx", QuestionDir: "questions"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("complete config should validate: %v", err)
	}
}
