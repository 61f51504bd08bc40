package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	orig := [3]string{Version, GitSHA, BuildTime}
	t.Cleanup(func() { Version, GitSHA, BuildTime = orig[0], orig[1], orig[2] })

	Version, GitSHA, BuildTime = "1.2.0", "abc123", "2026-10-19"
	assert.Equal(t, "1.2.0 (abc123, built 2026-10-19)", String())
}
