package testutil

import "github.com/roach88/ambient/internal/scope"

// FixedIDGenerator returns the same scope ID every time.
//
// Unlike scope.SequenceGenerator, every scope (including clones) gets the
// same ID, which is useful when a golden output should not depend on how
// many scopes a test created.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator. If id is empty, Generate
// returns "test-scope".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-scope"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed ID.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}

// NewRegistry returns a registry with sequential IDs ("s-1", "s-2", ...)
// that reports to a fresh Recorder, then to each of extra, instead of
// logging.
func NewRegistry(extra ...scope.Observer) (*scope.Registry, *Recorder) {
	rec := NewRecorder()
	reg := scope.NewRegistry(
		scope.WithIDGenerator(scope.NewSequenceGenerator("s")),
		scope.WithObserver(scope.Observers(append([]scope.Observer{rec}, extra...)...)),
	)
	return reg, rec
}
