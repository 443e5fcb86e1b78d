package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if len(id) != 36 || len(strings.Split(id, "-")) != 5 {
		t.Fatalf("UUIDv7: malformed %q", id)
	}
	if id[14] != '7' {
		t.Fatalf("UUIDv7: version nibble %q in %q", id[14], id)
	}
	if _, err := Parse(id); err != nil {
		t.Fatalf("Parse(%q): %v", id, err)
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		id := gen()
		if id <= prev {
			t.Fatalf("UUIDv7: %q not after %q", id, prev)
		}
		prev = id
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("run_", UUIDv7())()
	if !strings.HasPrefix(id, "run_") || len(id) != 40 {
		t.Fatalf("Prefixed: %q", id)
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("i")
	for _, want := range []string{"i1", "i2", "i3"} {
		if got := gen(); got != want {
			t.Fatalf("Sequence: got %q, want %q", got, want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("want error")
	}
}
