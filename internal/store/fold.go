package store

import "strings"

// fold applies simple case folding: ASCII-lowercase plus simple Unicode
// case-folding, nothing heavier (no NFKC or other normalization).
// strings.ToLower is exactly that — it lowercases rune by rune without
// attempting compatibility decomposition — so there is no need to reach for
// a dedicated Unicode normalization library here.
func fold(s string) string {
	return strings.ToLower(s)
}

// bigramWindows returns the ordered (bigram, position) pairs for every
// overlapping 2-character window of a folded string. Position is the
// 0-based rune offset of the window's first character. Returns nil when
// folded has fewer than 2 runes (I3: no postings below that length).
func bigramWindows(folded string) []bigramWindow {
	runes := []rune(folded)
	if len(runes) < 2 {
		return nil
	}
	windows := make([]bigramWindow, 0, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		windows = append(windows, bigramWindow{
			Bigram:   string(runes[i : i+2]),
			Position: i,
		})
	}
	return windows
}

type bigramWindow struct {
	Bigram   string
	Position int
}

// tokenize splits a query into space-separated tokens, each treated as an
// independent AND-ed substring requirement (§9 open question: this spec
// chooses AND-of-per-token-plans over passing the whole string to FTS).
func tokenize(query string) []string {
	fields := strings.Fields(query)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, fold(f))
	}
	return out
}
