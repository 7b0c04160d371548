package history

import "testing"

func TestTimestamp(t *testing.T) {
	h := BatchHeader{Interval: 300, Elapsed: 2, Offset: 50, Start: 10, Count: 3}
	const now = 1738621029

	tests := []struct {
		i    int
		want int64
	}{
		{0, 1738623379},
		{1, 1738623679},
		{2, 1738623979},
	}

	for _, tt := range tests {
		if got := Timestamp(h, now, tt.i); got != tt.want {
			t.Errorf("Timestamp(i=%d) = %d, want %d", tt.i, got, tt.want)
		}
	}
}

func TestTimestamp_Base(t *testing.T) {
	// index 0 of the log sits offset + elapsed*interval before now
	h := BatchHeader{Interval: 60, Elapsed: 5, Offset: 17}
	if got, want := Timestamp(h, 10_000, 0), int64(10_000-17-5*60); got != want {
		t.Errorf("Timestamp() = %d, want %d", got, want)
	}
}
