// Dataset directory discovery, subject-name matching and symlink
// mirroring. A dataset directory is a per-subject working area outside the
// catalog which receives symlinks back to ingested source files.
package dataset

import (
	"os"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

const (
	MatchExact     = "exact"
	MatchPrefix    = "prefix"
	MatchSubstring = "substring"
	MatchFuzzy     = "fuzzy"
)

const (
	maxSuggestions      = 5
	fuzzyThreshold      = 0.75
	firstTokenThreshold = 0.8
	minTokenLength      = 3
)

// Suggestion is one ranked candidate directory for a subject.
type Suggestion struct {
	DirName   string  `json:"dir_name"`
	Score     float64 `json:"score"`
	MatchType string  `json:"match_type"`
}

// ListDirs returns the sorted names of the directories directly under the
// datasets root. A missing or unreadable root yields an empty list.
func ListDirs(datasetsRoot string) []string {
	entries, err := os.ReadDir(datasetsRoot)
	if err != nil {
		return []string{}
	}

	dirs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}

	sort.Strings(dirs)
	return dirs
}

// Match ranks dataset directory names against a subject name using four
// tiers: exact (1.0, short-circuits), prefix in either direction (0.9),
// substring in either direction (0.8) and similarity-based fuzzy matching
// (score is the similarity, at least 0.75). At most five suggestions are
// returned, best first, ties broken by name.
func Match(subjectName string, datasetDirs []string) []Suggestion {
	normSubject := normalize(subjectName)
	if normSubject == "" {
		return []Suggestion{}
	}

	levenshtein := metrics.NewLevenshtein()
	suggestions := make([]Suggestion, 0, len(datasetDirs))
	seen := make(map[string]struct{})

	for _, dir := range datasetDirs {
		normDir := normalize(dir)
		if _, dup := seen[dir]; dup {
			continue
		}

		if normDir == normSubject {
			return []Suggestion{{DirName: dir, Score: 1.0, MatchType: MatchExact}}
		}

		if strings.HasPrefix(normDir, normSubject) || strings.HasPrefix(normSubject, normDir) {
			suggestions = append(suggestions, Suggestion{DirName: dir, Score: 0.9, MatchType: MatchPrefix})
			seen[dir] = struct{}{}
			continue
		}

		if strings.Contains(normDir, normSubject) || strings.Contains(normSubject, normDir) {
			suggestions = append(suggestions, Suggestion{DirName: dir, Score: 0.8, MatchType: MatchSubstring})
			seen[dir] = struct{}{}
			continue
		}

		best := strutil.Similarity(normSubject, normDir, levenshtein)

		// A close first token can carry the match on its own, but only
		// when both tokens are long enough to be meaningful.
		firstSubject := firstToken(normSubject)
		firstDir := firstToken(normDir)
		if len(firstSubject) >= minTokenLength && len(firstDir) >= minTokenLength {
			if ratio := strutil.Similarity(firstSubject, firstDir, levenshtein); ratio >= firstTokenThreshold && ratio > best {
				best = ratio
			}
		}

		if best >= fuzzyThreshold {
			suggestions = append(suggestions, Suggestion{DirName: dir, Score: roundScore(best), MatchType: MatchFuzzy})
			seen[dir] = struct{}{}
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}

		return suggestions[i].DirName < suggestions[j].DirName
	})

	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}

	return suggestions
}

// normalize lowercases a name and folds separator characters to spaces so
// "Jo Plaete" and "jo_plaete" compare equal.
func normalize(name string) string {
	lowered := strings.ToLower(name)
	lowered = strings.ReplaceAll(lowered, "_", " ")
	lowered = strings.ReplaceAll(lowered, "-", " ")
	return strings.TrimSpace(lowered)
}

func firstToken(name string) string {
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}

	return name
}

func roundScore(score float64) float64 {
	return float64(int64(score*1000+0.5)) / 1000
}
