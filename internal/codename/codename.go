// Package codename produces the human-readable two-word pseudonyms that
// identify rooms without exposing a user's real identity to staff.
package codename

import (
	"fmt"
	"math/rand"
)

// maxCleanAttempts bounds how many unsuffixed candidates are tried before
// falling back to a numeric suffix. With len(adjectives)*len(nouns)
// combinations (2304), the first collision is not expected until roughly 50
// live rooms exist, so the suffix path only matters when the word lists are
// nearly exhausted.
const maxCleanAttempts = 25

// ExistsFunc reports whether a codename is already attached to a live room.
type ExistsFunc func(codename string) (bool, error)

// Generator samples codenames and checks them against the room store until
// it finds one that is free. Uniqueness is ultimately enforced by the store's
// unique index at insert time; the generator only avoids obvious collisions.
type Generator struct {
	exists ExistsFunc
	intn   func(n int) int
}

// New creates a Generator backed by the given existence check.
func New(exists ExistsFunc) *Generator {
	return &Generator{exists: exists, intn: rand.Intn}
}

// NewWithRand creates a Generator with a deterministic random source.
func NewWithRand(exists ExistsFunc, rng *rand.Rand) *Generator {
	return &Generator{exists: exists, intn: rng.Intn}
}

// Generate returns a codename not currently attached to any room. It retries
// on collision; past maxCleanAttempts it appends a numeric suffix to the
// candidate so the loop terminates even on a nearly full word list.
func (g *Generator) Generate() (string, error) {
	for attempt := 0; ; attempt++ {
		candidate := g.candidate()
		if attempt >= maxCleanAttempts {
			candidate = fmt.Sprintf("%s-%d", candidate, attempt-maxCleanAttempts+2)
		}
		taken, err := g.exists(candidate)
		if err != nil {
			return "", fmt.Errorf("codename: check %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
}

// candidate samples one adjective and one noun uniformly at random.
func (g *Generator) candidate() string {
	return adjectives[g.intn(len(adjectives))] + "-" + nouns[g.intn(len(nouns))]
}

var adjectives = []string{
	"amber", "ancient", "arctic", "autumn", "bold", "brave",
	"bright", "brisk", "calm", "cedar", "clever", "cobalt",
	"copper", "coral", "crimson", "curious", "dusty", "eager",
	"early", "emerald", "fearless", "gentle", "golden", "hidden",
	"humble", "indigo", "ivory", "jade", "keen", "lively",
	"lunar", "mellow", "midnight", "nimble", "olive", "patient",
	"quiet", "rapid", "ruby", "rustic", "scarlet", "silent",
	"silver", "solar", "steady", "swift", "velvet", "winter",
}

var nouns = []string{
	"badger", "bison", "canyon", "cardinal", "comet", "condor",
	"cougar", "crane", "cypress", "delta", "falcon", "fern",
	"finch", "fjord", "fox", "glacier", "harbor", "hawk",
	"heron", "ibis", "jaguar", "juniper", "kestrel", "lagoon",
	"lantern", "lark", "lynx", "maple", "marmot", "meadow",
	"merlin", "mesa", "osprey", "otter", "owl", "panther",
	"pelican", "pine", "raven", "reef", "sparrow", "summit",
	"swan", "tundra", "walnut", "willow", "wolf", "wren",
}
