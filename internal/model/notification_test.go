package model

import "testing"

func TestStatus_CanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to Status
		want     bool
	}{
		{Pending, Processing, true},
		{Pending, Completed, false},
		{Pending, Failed, false},
		{Processing, Completed, true},
		{Processing, Failed, true},
		{Processing, Pending, false},
		{Completed, Processing, false},
		{Completed, Failed, false},
		{Failed, Completed, false},
		{Failed, Pending, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{Completed, Failed} {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{Pending, Processing} {
		if s.IsTerminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
	if Status("sent").IsValid() {
		t.Fatalf("expected unknown status to be invalid")
	}
}
