package identity

import "testing"

func TestNewIsValidAndUnique(t *testing.T) {
	a := New()
	b := New()
	if !a.IsValid() || !b.IsValid() {
		t.Fatalf("New() produced invalid id")
	}
	if a.Equal(b) {
		t.Fatalf("two calls to New() collided: %s", a)
	}
}

func TestZeroValueIsInvalid(t *testing.T) {
	var id ID
	if id.IsValid() {
		t.Fatalf("zero value ID should be invalid")
	}
	if id.Size() != 0 {
		t.Fatalf("zero value ID should have size 0, got %d", id.Size())
	}
}

func TestRoundTrip(t *testing.T) {
	want := New()
	ungrouped := want.ToString(false)
	got := Parse(ungrouped)
	if !got.Equal(want) {
		t.Fatalf("round trip mismatch: want %s got %s", want, got)
	}
	if len(ungrouped) != Size*2 {
		t.Fatalf("ungrouped string length = %d, want %d", len(ungrouped), Size*2)
	}
	grouped := want.String()
	if len(grouped) != length {
		t.Fatalf("grouped string length = %d, want %d", len(grouped), length)
	}
	for _, i := range []int{8, 13, 18, 23} {
		if grouped[i] != '-' {
			t.Fatalf("grouped string %q missing dash at %d", grouped, i)
		}
	}
}

func TestParseMalformedYieldsSentinel(t *testing.T) {
	cases := []string{
		"",
		"abc",            // odd length
		"zz00ff00zz00ff00", // non-hex
		"not-a-valid-id-at-all-xyz",
	}
	for _, c := range cases {
		id := Parse(c)
		if id.IsValid() {
			t.Fatalf("Parse(%q) = %s, want invalid sentinel", c, id)
		}
	}
}

func TestLessIsTotalOrder(t *testing.T) {
	a := Parse("00000000000000000000000000000001")
	b := Parse("00000000000000000000000000000002")
	if !a.Less(b) {
		t.Fatalf("expected a < b")
	}
	if b.Less(a) {
		t.Fatalf("expected !(b < a)")
	}
	if a.Less(a) {
		t.Fatalf("expected !(a < a)")
	}
}

func TestHashStableForEqualIDs(t *testing.T) {
	s := New().ToString(false)
	a := Parse(s)
	b := Parse(s)
	if a.Hash() != b.Hash() {
		t.Fatalf("equal ids hashed differently")
	}
}
