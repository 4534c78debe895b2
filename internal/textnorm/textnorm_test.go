package textnorm

import "testing"

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Kyiv", "kyiv"},
		{"  KYIV  Oblast\t", "kyiv oblast"},
		{"Straße", "strasse"},
		{"ΣΊΣΥΦΟΣ", "σίσυφοσ"},
		{"Air-Defense", "air-defense"},
		{"\n\n", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Fold(tt.in); got != tt.want {
				t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		haystack, needle string
		want             bool
	}{
		{"Kyiv Oblast", "kyiv", true},
		{"kyiv   oblast", "KYIV OBLAST", true},
		{"Kharkiv", "kyiv", false},
		{"anything", "", true},
		{"GROSSE Offensive", "große", true},
	}

	for _, tt := range tests {
		if got := Contains(tt.haystack, tt.needle); got != tt.want {
			t.Errorf("Contains(%q, %q) = %v, want %v", tt.haystack, tt.needle, got, tt.want)
		}
	}
}

func TestEqual(t *testing.T) {
	if !Equal("air-defense", " AIR-DEFENSE ") {
		t.Error("expected folded equality")
	}
	if Equal("air-defense", "air defense") {
		t.Error("hyphen and space must stay distinct")
	}
}

func TestAnyContains(t *testing.T) {
	aliases := []string{"Volodymyr Zelenskyy", "Zelensky"}
	if !AnyContains(aliases, "zelensk") {
		t.Error("expected alias match")
	}
	if AnyContains(nil, "x") {
		t.Error("nil slice never matches")
	}
}

func TestMatchRank(t *testing.T) {
	tests := []struct {
		name, query string
		want        int
	}{
		{"NATO", "nato", 0},
		{"NATO Allied Command", "nato", 1},
		{"Pro-NATO Bloc", "nato", 2},
		{"European Union", "nato", -1},
	}

	for _, tt := range tests {
		if got := MatchRank(tt.name, tt.query); got != tt.want {
			t.Errorf("MatchRank(%q, %q) = %d, want %d", tt.name, tt.query, got, tt.want)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	if got := EscapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Errorf("EscapeLike = %q", got)
	}
}

func TestClean(t *testing.T) {
	if got := Clean("  Kyiv \t Oblast "); got != "Kyiv Oblast" {
		t.Errorf("Clean = %q", got)
	}
}
