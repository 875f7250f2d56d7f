package communication

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trustmesh/trustmesh/utils"
)

func TestProcessOutcomeLine(t *testing.T) {
	var got []SessionOutcome
	collect := func(o SessionOutcome) { got = append(got, o) }

	processOutcomeLine(
		"[2026-08-29 10:00:00] [Session abc-123] (agreed) |@trustmesh.agent.bob|: countersigned Block{dead:1 -> beef:0}",
		collect)
	require.Len(t, got, 1)
	require.Equal(t, "abc-123", got[0].SessionID)
	require.Equal(t, "agreed", got[0].State)
	require.Equal(t, "trustmesh.agent.bob", got[0].Partner)
	require.Equal(t, "countersigned Block{dead:1 -> beef:0}", got[0].Detail)

	// Unparseable lines are dropped.
	processOutcomeLine("garbage line", collect)
	require.Len(t, got, 1)
}

func TestLogOutcomeLinesParse(t *testing.T) {
	file := filepath.Join(t.TempDir(), "outcomes.log")
	utils.LogOutcome(file, "s-1", "rejected", "trustmesh.agent.carol", "chain verification failed")

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	line := strings.TrimRight(string(content), "\n")

	var got []SessionOutcome
	processOutcomeLine(line, func(o SessionOutcome) { got = append(got, o) })
	require.Len(t, got, 1)
	require.Equal(t, "s-1", got[0].SessionID)
	require.Equal(t, "rejected", got[0].State)
	require.Equal(t, "trustmesh.agent.carol", got[0].Partner)
}
