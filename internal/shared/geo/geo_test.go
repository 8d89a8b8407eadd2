package geo

import "testing"

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestPathKm(t *testing.T) {
	if PathKm(nil) != 0 || PathKm([]Point{{1, 1}}) != 0 {
		t.Fatalf("short paths have no length")
	}
	path := []Point{{-6.2, 106.816}, {-6.9175, 107.6191}, {-6.2, 106.816}}
	leg := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if got := PathKm(path); got < 2*leg-0.001 || got > 2*leg+0.001 {
		t.Fatalf("expected round trip %v, got %v", 2*leg, got)
	}
}
