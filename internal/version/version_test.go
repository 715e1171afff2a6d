package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommit_PrefersStampedValue(t *testing.T) {
	old := GitCommit
	defer func() { GitCommit = old }()

	GitCommit = "abc1234"
	assert.Equal(t, "abc1234", Commit())
}

func TestCommit_UnstampedDoesNotPanic(t *testing.T) {
	old := GitCommit
	defer func() { GitCommit = old }()

	GitCommit = "unknown"
	// Test binaries carry no VCS revision, so this exercises the
	// fallback path end to end.
	assert.NotEmpty(t, Commit())
}
