package codename

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"testing"
)

func noneExist(string) (bool, error) { return false, nil }

func TestGenerateShape(t *testing.T) {
	gen := NewWithRand(noneExist, rand.New(rand.NewSource(1)))

	shape := regexp.MustCompile(`^[a-z]+-[a-z]+$`)
	for i := 0; i < 100; i++ {
		code, err := gen.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !shape.MatchString(code) {
			t.Errorf("codename %q is not adjective-noun", code)
		}
	}
}

func TestGenerateIsDeterministicWithSeed(t *testing.T) {
	a := NewWithRand(noneExist, rand.New(rand.NewSource(42)))
	b := NewWithRand(noneExist, rand.New(rand.NewSource(42)))

	for i := 0; i < 20; i++ {
		ca, _ := a.Generate()
		cb, _ := b.Generate()
		if ca != cb {
			t.Fatalf("diverged at %d: %q vs %q", i, ca, cb)
		}
	}
}

func TestGenerateSkipsTakenNames(t *testing.T) {
	taken := make(map[string]bool)
	exists := func(code string) (bool, error) { return taken[code], nil }
	gen := NewWithRand(exists, rand.New(rand.NewSource(7)))

	for i := 0; i < 200; i++ {
		code, err := gen.Generate()
		if err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
		if taken[code] {
			t.Fatalf("generated taken codename %q", code)
		}
		taken[code] = true
	}
}

func TestGenerateFallsBackToSuffix(t *testing.T) {
	// Everything unsuffixed is taken; only suffixed candidates are free.
	exists := func(code string) (bool, error) {
		return !strings.ContainsAny(code, "0123456789"), nil
	}
	gen := NewWithRand(exists, rand.New(rand.NewSource(3)))

	code, err := gen.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !regexp.MustCompile(`^[a-z]+-[a-z]+-\d+$`).MatchString(code) {
		t.Errorf("expected suffixed codename, got %q", code)
	}
}

func TestGeneratePropagatesStoreError(t *testing.T) {
	exists := func(string) (bool, error) { return false, fmt.Errorf("db gone") }
	gen := New(exists)

	if _, err := gen.Generate(); err == nil {
		t.Fatal("expected error")
	}
}

func TestWordListsAreWellFormed(t *testing.T) {
	for _, list := range [][]string{adjectives, nouns} {
		seen := make(map[string]bool)
		for _, w := range list {
			if w == "" || w != strings.ToLower(w) || strings.Contains(w, "-") {
				t.Errorf("bad word %q", w)
			}
			if seen[w] {
				t.Errorf("duplicate word %q", w)
			}
			seen[w] = true
		}
	}
}
