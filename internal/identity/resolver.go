// Package identity resolves article identifiers against on-disk article
// folders and already-known identifiers.
package identity

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

// MatchKind classifies how a candidate identifier matched a known one.
type MatchKind string

// Match kinds returned by MatchExisting.
const (
	MatchExact MatchKind = "exact"
	MatchBase  MatchKind = "base"
	MatchNone  MatchKind = "none"
)

// Match is the result of deduplicating a candidate identifier.
type Match struct {
	Identifier string
	Kind       MatchKind
}

// ResolveDirectory finds the article folder under root whose name matches
// the identifier, allowing a variant suffix ("4711" matches "4711" and
// "4711-M8"). When several folders match, a suffixed folder wins over the
// bare base folder because the suffixed ones carry the DOM sidecar; among
// several suffixed folders the lexicographically first is chosen so
// resolution stays deterministic. Returns extraction.ErrNoDirectory when
// nothing matches.
func ResolveDirectory(root, articleNumber string) (string, error) {
	articleNumber = strings.TrimSpace(articleNumber)
	if articleNumber == "" {
		return "", fmt.Errorf("resolve directory: empty article number")
	}
	pattern, err := regexp.Compile("^" + regexp.QuoteMeta(articleNumber) + "(-.*)?$")
	if err != nil {
		return "", fmt.Errorf("resolve directory: compile pattern: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("resolve directory: read root: %w", err)
	}

	var bare string
	var suffixed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !pattern.MatchString(name) {
			continue
		}
		if name == articleNumber {
			bare = name
			continue
		}
		suffixed = append(suffixed, name)
	}

	switch {
	case len(suffixed) > 0:
		sort.Strings(suffixed)
		return suffixed[0], nil
	case bare != "":
		return bare, nil
	default:
		return "", fmt.Errorf("resolve directory %q: %w", articleNumber, extraction.ErrNoDirectory)
	}
}

// DiscoverArticles lists the article folder names under root in sorted
// order. Batches submitted without an explicit article list run over
// every folder found here.
func DiscoverArticles(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("discover articles: read root: %w", err)
	}
	var articles []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := strings.TrimSpace(entry.Name())
		if name == "" || strings.HasPrefix(name, ".") {
			continue
		}
		articles = append(articles, name)
	}
	sort.Strings(articles)
	return articles, nil
}

// BaseNumber returns the identifier's base part before any variant suffix.
func BaseNumber(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if idx := strings.Index(identifier, "-"); idx >= 0 {
		return identifier[:idx]
	}
	return identifier
}

// MatchExisting deduplicates a candidate identifier against already-known
// identifiers in two passes: exact string match first, then base-number
// match so a freshly observed "1234-X" merges into an existing bare "1234"
// record instead of creating a duplicate.
func MatchExisting(candidate string, known []string) Match {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return Match{Kind: MatchNone}
	}

	for _, existing := range known {
		if strings.TrimSpace(existing) == candidate {
			return Match{Identifier: existing, Kind: MatchExact}
		}
	}

	base := BaseNumber(candidate)
	for _, existing := range known {
		if BaseNumber(existing) == base {
			return Match{Identifier: existing, Kind: MatchBase}
		}
	}

	return Match{Kind: MatchNone}
}
