package testutil

// FixedRunID returns the same run id every time.
//
// Result ids are content-addressed and include the run id, so a scenario run
// with FixedRunID produces the same ids on every run and golden files can
// hold them.
//
// Unlike engine.FixedGenerator, which hands out a sequence of ids and panics
// when it runs out, FixedRunID can be shared by any number of runs.
//
// Thread-safety: FixedRunID is stateless and safe for concurrent use.
type FixedRunID struct {
	id string
}

// NewFixedRunID creates a fixed run id generator.
//
// If id is empty, Generate() returns "test-run".
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "test-run"
	}
	return &FixedRunID{id: id}
}

// Generate returns the fixed id.
//
// Implements engine.RunIDGenerator.
func (g *FixedRunID) Generate() string {
	return g.id
}
