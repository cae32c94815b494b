package dataset_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ingesthub/ingesthub/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Match_ExactMatchShortCircuits(t *testing.T) {
	suggestions := dataset.Match("Jo Plaete", []string{"jo_plaete", "john", "joplaete_backup"})

	require.Len(t, suggestions, 1)
	assert.Equal(t, "jo_plaete", suggestions[0].DirName)
	assert.Equal(t, 1.0, suggestions[0].Score)
	assert.Equal(t, dataset.MatchExact, suggestions[0].MatchType)
}

func Test_Match_PrefixBeatsSubstring(t *testing.T) {
	suggestions := dataset.Match("jo", []string{"jo_plaete", "banjo_cam"})

	require.Len(t, suggestions, 2)
	assert.Equal(t, "jo_plaete", suggestions[0].DirName)
	assert.Equal(t, 0.9, suggestions[0].Score)
	assert.Equal(t, dataset.MatchPrefix, suggestions[0].MatchType)
	assert.Equal(t, "banjo_cam", suggestions[1].DirName)
	assert.Equal(t, 0.8, suggestions[1].Score)
	assert.Equal(t, dataset.MatchSubstring, suggestions[1].MatchType)
}

func Test_Match_FuzzyBelowThresholdIsDropped(t *testing.T) {
	suggestions := dataset.Match("Alice Smith", []string{"zebra_wrangling", "qq"})
	assert.Empty(t, suggestions)
}

func Test_Match_FirstTokenCanCarryTheMatch(t *testing.T) {
	// Full names differ substantially but the first tokens are nearly
	// identical and both long enough to count.
	suggestions := dataset.Match("Jonathan Q", []string{"jonathon_completely_different_suffix"})

	require.Len(t, suggestions, 1)
	assert.Equal(t, dataset.MatchFuzzy, suggestions[0].MatchType)
	assert.GreaterOrEqual(t, suggestions[0].Score, 0.75)
}

func Test_Match_ShortTokensDoNotTriggerFirstTokenComparison(t *testing.T) {
	suggestions := dataset.Match("Al B", []string{"ab_completely_unrelated_name_here"})
	assert.Empty(t, suggestions)
}

func Test_Match_ReturnsAtMostFiveRankedSuggestions(t *testing.T) {
	dirs := []string{"jo_a", "jo_b", "jo_c", "jo_d", "jo_e", "jo_f", "jo_g"}
	suggestions := dataset.Match("jo", dirs)

	require.Len(t, suggestions, 5)
	for i := 1; i < len(suggestions); i++ {
		if suggestions[i-1].Score == suggestions[i].Score {
			assert.Less(t, suggestions[i-1].DirName, suggestions[i].DirName, "equal scores must sort by name")
		} else {
			assert.Greater(t, suggestions[i-1].Score, suggestions[i].Score)
		}
	}
}

func Test_Match_BlankSubjectYieldsNothing(t *testing.T) {
	assert.Empty(t, dataset.Match("   ", []string{"jo_plaete"}))
}

func Test_ListDirs_ReturnsSortedDirectoriesOnly(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "zeta"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "alpha"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	assert.Equal(t, []string{"alpha", "zeta"}, dataset.ListDirs(root))
}

func Test_ListDirs_MissingRootYieldsEmpty(t *testing.T) {
	assert.Empty(t, dataset.ListDirs(filepath.Join(t.TempDir(), "missing")))
}
