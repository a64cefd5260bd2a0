package presence

import (
	"math"
	"strings"
	"testing"
)

func TestValidPosition(t *testing.T) {
	cases := []struct {
		name string
		pos  Position
		want bool
	}{
		{"origin", Position{}, true},
		{"in bounds", Position{X: 999.5, Y: -1000, Z: 42, Rotation: math.Pi}, true},
		{"x too large", Position{X: 5000}, false},
		{"y too small", Position{Y: -1000.01}, false},
		{"z too large", Position{Z: 1001}, false},
		{"rotation over two pi", Position{Rotation: 2*math.Pi + 0.1}, false},
		{"negative rotation in bounds", Position{Rotation: -2 * math.Pi}, true},
		{"nan", Position{X: math.NaN()}, false},
		{"positive infinity", Position{Rotation: math.Inf(1)}, false},
		{"negative infinity", Position{Z: math.Inf(-1)}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidPosition(tc.pos); got != tc.want {
				t.Fatalf("ValidPosition(%+v) = %v, want %v", tc.pos, got, tc.want)
			}
		})
	}
}

func TestSanitizeUsername(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"plain", "Alice", "Alice", true},
		{"surrounding whitespace", "  Bob  ", "Bob", true},
		{"angle brackets stripped", "<script>Eve</script>", "scriptEve/script", true},
		{"control characters stripped", "Ali\x00ce\n", "Alice", true},
		{"empty", "", "", false},
		{"only brackets", "<><>", "", false},
		{"too long", strings.Repeat("a", MaxUsernameLen+1), "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SanitizeUsername(tc.input)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("SanitizeUsername(%q) = (%q, %v), want (%q, %v)", tc.input, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestSanitizeMessage(t *testing.T) {
	long := make([]rune, MaxMessageLen+1)
	for i := range long {
		long[i] = 'x'
	}

	if _, ok := SanitizeMessage(string(long)); ok {
		t.Fatalf("expected message over %d runes to be rejected", MaxMessageLen)
	}

	got, ok := SanitizeMessage("hi <there>")
	if !ok || got != "hi there" {
		t.Fatalf("SanitizeMessage = (%q, %v), want (%q, true)", got, ok, "hi there")
	}

	if _, ok := SanitizeMessage("   "); ok {
		t.Fatal("expected whitespace-only message to be rejected")
	}
}

func TestSanitizeRoomID(t *testing.T) {
	if _, ok := SanitizeRoomID(""); ok {
		t.Fatal("expected empty room id to be rejected")
	}

	got, ok := SanitizeRoomID(" lobby ")
	if !ok || got != "lobby" {
		t.Fatalf("SanitizeRoomID = (%q, %v), want (%q, true)", got, ok, "lobby")
	}
}

func TestNormalizeColor(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"#FFAA00", "#FFAA00"},
		{"#ffaa00", "#ffaa00"},
		{"#GGHHII", DefaultColor},
		{"red", DefaultColor},
		{"", DefaultColor},
		{"#FFF", DefaultColor},
	}

	for _, tc := range cases {
		if got := NormalizeColor(tc.input); got != tc.want {
			t.Fatalf("NormalizeColor(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
