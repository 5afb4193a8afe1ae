package contract

import "testing"

func TestParseAction(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in    string
		act   Action
		index int
		ok    bool
	}{
		{"say", ActSay, 0, true},
		{" SHOW_SLOTS ", ActShowSlots, 0, true},
		{"goodbye", ActGoodbye, 0, true},
		{"book", ActBook, 0, true},
		{"book(1)", ActBook, 1, true},
		{"book:2", ActBook, 2, true},
		{"book 3", ActBook, 3, true},
		{"book_4", ActBook, 4, true},
		{"book(x)", ActBook, 0, true},
		{"book(-2)", ActBook, 0, true},
		{"booking", "", 0, false},
		{"transfer", "", 0, false},
		{"", "", 0, false},
	}
	for _, tc := range cases {
		act, idx, ok := ParseAction(tc.in)
		if act != tc.act || idx != tc.index || ok != tc.ok {
			t.Fatalf("ParseAction(%q) = (%q, %d, %v), want (%q, %d, %v)", tc.in, act, idx, ok, tc.act, tc.index, tc.ok)
		}
	}
}

func TestDirectiveTag(t *testing.T) {
	t.Parallel()

	if got := Book(1, "").Tag(); got != "book:1" {
		t.Fatalf("Book(1).Tag() = %q, want book:1", got)
	}
	if got := Book(-5, "").Index; got != 0 {
		t.Fatalf("Book(-5).Index = %d, want 0", got)
	}
	if got := ShowSlots("").Tag(); got != "show_slots" {
		t.Fatalf("ShowSlots().Tag() = %q, want show_slots", got)
	}
}
