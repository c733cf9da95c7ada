package slots

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"07:30", "07:30"},
		{"7:30", "07:30"},
		{" 7:5 ", "07:05"},
		{"10:00", "10:00"},
		{"  11:00", "11:00"},
		{"garbage", "garbage"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	// Second lookup hits the cache and must agree.
	if got := Normalize("7:30"); got != "07:30" {
		t.Errorf("cached Normalize(%q) = %q, want %q", "7:30", got, "07:30")
	}
}

func TestCanonical(t *testing.T) {
	s1 := Canonical(SessionS1)
	if len(s1) != 3 || s1[0] != "07:30" || s1[2] != "09:00" {
		t.Errorf("Canonical(S1) = %v", s1)
	}
	s2 := Canonical(SessionS2)
	if len(s2) != 4 || s2[0] != "09:30" || s2[3] != "11:00" {
		t.Errorf("Canonical(S2) = %v", s2)
	}
	if all := All(); len(all) != 7 {
		t.Errorf("All() returned %d slots, want 7", len(all))
	}
}

func TestSessionOf(t *testing.T) {
	if s := SessionOf("08:00"); s != SessionS1 {
		t.Errorf("SessionOf(08:00) = %q, want S1", s)
	}
	if s := SessionOf("10:30"); s != SessionS2 {
		t.Errorf("SessionOf(10:30) = %q, want S2", s)
	}
	// Un-normalized input maps through Normalize.
	if s := SessionOf("9:30"); s != SessionS2 {
		t.Errorf("SessionOf(9:30) = %q, want S2", s)
	}
	// Unknown times default to S1.
	if s := SessionOf("13:00"); s != SessionS1 {
		t.Errorf("SessionOf(13:00) = %q, want S1 default", s)
	}
}

func TestScore(t *testing.T) {
	cases := []struct {
		result string
		want   int
	}{
		{ResultWin, 1},
		{ResultLoss, -2},
		{ResultBE, 0},
		{ResultNoTrade, 0},
		{ResultTime, 0},
		{"", 0},
		{"Whatever", 0},
	}
	for _, c := range cases {
		if got := Score(c.result); got != c.want {
			t.Errorf("Score(%q) = %d, want %d", c.result, got, c.want)
		}
	}
}

func TestSortKeyAndBefore(t *testing.T) {
	h, m := SortKey("09:30")
	if h != 9 || m != 30 {
		t.Errorf("SortKey(09:30) = (%d, %d), want (9, 30)", h, m)
	}

	if !Before("07:30", "08:00") {
		t.Error("07:30 should sort before 08:00")
	}
	if !Before("09:00", "09:30") {
		t.Error("09:00 should sort before 09:30")
	}
	if Before("11:00", "10:30") {
		t.Error("11:00 should not sort before 10:30")
	}
	// Lexical order would get this wrong with un-padded hours.
	if !Before("7:30", "10:00") {
		t.Error("7:30 should sort before 10:00")
	}
}
