package strategy

import (
	"sync"
	"testing"
)

func TestSetLoosenessClamps(t *testing.T) {
	s := NewStrictness(0)
	tests := []struct {
		in, want float64
	}{
		{-1, 0},
		{0.25, 0.25},
		{0.6, 0.6},
		{2, 0.6},
	}
	for _, tt := range tests {
		if got := s.SetLooseness(tt.in); got != tt.want {
			t.Fatalf("SetLooseness(%v)=%v, expected %v", tt.in, got, tt.want)
		}
		if s.Looseness() != tt.want {
			t.Fatalf("Looseness()=%v, expected %v", s.Looseness(), tt.want)
		}
	}
}

func TestSetMode(t *testing.T) {
	s := NewStrictness(0.5)
	tests := []struct {
		mode    string
		want    float64
		wantErr bool
	}{
		{"strict", 0, false},
		{"loose", 0.30, false},
		{"LOOSE:0.45", 0.45, false},
		{"loose:0.9", 0.6, false},
		{"loose:abc", 0.6, true},
		{"wild", 0.6, true},
	}
	for _, tt := range tests {
		got, err := s.SetMode(tt.mode)
		if (err != nil) != tt.wantErr {
			t.Fatalf("SetMode(%q) err=%v, wantErr %v", tt.mode, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("SetMode(%q)=%v, expected %v", tt.mode, got, tt.want)
		}
	}
}

func TestSnapshotIsConsistentUnderConcurrentWrites(t *testing.T) {
	s := NewStrictness(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.SetLooseness(float64(i) / 10)
			s.SetForceTestSignal(i%2 == 0)
			_ = s.Snapshot()
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	if snap.Looseness < 0 || snap.Looseness > MaxLooseness {
		t.Fatalf("Looseness=%v out of range", snap.Looseness)
	}
}
