package store

import "testing"

func TestFold(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"ascii upper", "REPORT.PDF", "report.pdf"},
		{"mixed case", "MyFile.Txt", "myfile.txt"},
		{"already folded", "lower.txt", "lower.txt"},
		{"cjk passthrough", "申告書.pdf", "申告書.pdf"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := fold(tc.in); got != tc.want {
				t.Errorf("fold(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBigramWindows(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []bigramWindow
	}{
		{"empty", "", nil},
		{"single rune", "a", nil},
		{"two runes", "ab", []bigramWindow{{"ab", 0}}},
		{"three ascii runes", "abc", []bigramWindow{{"ab", 0}, {"bc", 1}}},
		{"multibyte runes", "申告書", []bigramWindow{{"申告", 0}, {"告書", 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := bigramWindows(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("bigramWindows(%q) = %v, want %v", tc.in, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("bigramWindows(%q)[%d] = %v, want %v", tc.in, i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("  Foo   BAR\tbaz  ")
	want := []string{"foo", "bar", "baz"}
	if len(got) != len(want) {
		t.Fatalf("tokenize() = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("tokenize()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
