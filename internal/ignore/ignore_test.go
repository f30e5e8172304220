package ignore

import "testing"

func TestSetMatch(t *testing.T) {
	cases := []struct {
		name     string
		patterns []string
		input    string
		want     bool
	}{
		{"literal match", []string{"node_modules"}, "node_modules", true},
		{"literal miss", []string{"node_modules"}, "node_module", false},
		{"glob suffix", []string{"*.tmp"}, "cache.tmp", true},
		{"glob no match", []string{"*.tmp"}, "cache.txt", false},
		{"empty set", nil, "anything", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(tc.patterns)
			if got := s.Match(tc.input); got != tc.want {
				t.Errorf("Match(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestValidatePattern(t *testing.T) {
	if err := ValidatePattern(""); err == nil {
		t.Error("ValidatePattern(\"\") = nil, want error")
	}
	if err := ValidatePattern("[unterminated"); err == nil {
		t.Error("ValidatePattern(malformed glob) = nil, want error")
	}
	if err := ValidatePattern("*.log"); err != nil {
		t.Errorf("ValidatePattern(\"*.log\") = %v, want nil", err)
	}
}

func TestRegistryAddRemoveIsCopyOnWrite(t *testing.T) {
	r := NewRegistry([]string{".git"})
	before := r.Current()

	if err := r.Add("node_modules"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	after := r.Current()

	if before == after {
		t.Fatal("Current() returned the same Set instance after Add; expected a new snapshot")
	}
	if before.Match("node_modules") {
		t.Error("previously-held snapshot observed the later Add; copy-on-write violated")
	}
	if !after.Match("node_modules") {
		t.Error("new snapshot does not contain the added pattern")
	}

	r.Remove(".git")
	final := r.Current()
	if final.Match(".git") {
		t.Error("Remove() did not take effect")
	}
	if !final.Match("node_modules") {
		t.Error("Remove() unexpectedly dropped an unrelated pattern")
	}
}

func TestRegistryAddRejectsInvalidPattern(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Add(""); err == nil {
		t.Error("Add(\"\") = nil, want error")
	}
	if len(r.Current().Patterns()) != 0 {
		t.Error("invalid Add() mutated the registry")
	}
}

func TestAddDefaultsDeduplicates(t *testing.T) {
	r := NewRegistry([]string{".git"})
	if err := r.AddDefaults([]string{".git", "node_modules", "node_modules"}); err != nil {
		t.Fatalf("AddDefaults() error = %v", err)
	}
	patterns := r.Current().Patterns()
	if len(patterns) != 2 {
		t.Fatalf("Patterns() = %v, want 2 unique entries", patterns)
	}
}
