package taskmgr

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/samueljseay/hal9999/internal/dbstore"
)

var adjectives = []string{
	"brisk", "calm", "eager", "fuzzy", "quiet", "bold", "tidy", "lucky",
	"bright", "gentle", "swift", "amber", "coral", "dusky", "rapid", "plain",
}

var nouns = []string{
	"otter", "falcon", "maple", "ember", "heron", "cedar", "plume", "ridge",
	"quill", "basin", "grove", "delta", "drift", "finch", "prism", "vale",
}

// generateSlug produces an adjective-noun human-friendly identifier
// (spec.md §3: "a human-friendly unique slug"), adapted from the
// unique-lookup-with-retry pattern warren uses for name uniqueness
// (pkg/storage/boltdb.go's GetServiceByName idiom, here driving a retry
// loop instead of just a lookup).
func generateSlug(ctx context.Context, store dbstore.TaskStore, rng *rand.Rand) (string, error) {
	const maxAttempts = 20
	for i := 0; i < maxAttempts; i++ {
		candidate := fmt.Sprintf("%s-%s", pick(rng, adjectives), pick(rng, nouns))
		exists, err := store.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("taskmgr: could not generate a unique slug after %d attempts", maxAttempts)
}

func pick(rng *rand.Rand, options []string) string {
	return options[rng.Intn(len(options))]
}
