package rng_test

import (
	"math"
	"testing"

	"pmsim/internal/rng"
)

func TestKnownSequence(t *testing.T) {
	r := rng.New(12345)
	want := []float64{0.9797282677609473, 0.3067522644996643, 0.484205421525985}
	for i, w := range want {
		got := r.Next()
		if math.Abs(got-w) > 1e-15 {
			t.Fatalf("draw %d: got %v want %v", i, got, w)
		}
	}
	if r.State() != 1199742488 {
		t.Fatalf("unexpected state %d", r.State())
	}
}

func TestResumeFromState(t *testing.T) {
	a := rng.New(-42)
	for i := 0; i < 10; i++ {
		a.Next()
	}
	b := rng.New(a.State())
	for i := 0; i < 50; i++ {
		if x, y := a.Next(), b.Next(); x != y {
			t.Fatalf("draw %d diverged: %v vs %v", i, x, y)
		}
	}
}

func TestIntBounds(t *testing.T) {
	r := rng.New(7)
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		v := r.Int(-3, 3)
		if v < -3 || v > 3 {
			t.Fatalf("out of range: %d", v)
		}
		seen[v] = true
	}
	if len(seen) != 7 {
		t.Fatalf("expected every value in range, saw %v", seen)
	}
	if got := r.Int(5, 5); got != 5 {
		t.Fatalf("degenerate range: %d", got)
	}
}

func TestPick(t *testing.T) {
	r := rng.New(99)
	before := r.State()
	if _, ok := rng.Pick(&r, []string{}); ok {
		t.Fatalf("expected empty pick to fail")
	}
	if r.State() != before {
		t.Fatalf("empty pick consumed a draw")
	}
	items := []string{"a", "b", "c"}
	for i := 0; i < 100; i++ {
		v, ok := rng.Pick(&r, items)
		if !ok || (v != "a" && v != "b" && v != "c") {
			t.Fatalf("bad pick %q", v)
		}
	}
}

func TestCopyForksStream(t *testing.T) {
	a := rng.New(1)
	b := a
	if a.Next() != b.Next() {
		t.Fatalf("copies should produce the same draws")
	}
}
