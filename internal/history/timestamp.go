package history

import "time"

// Timestamp reconstructs the UNIX time of sample i of a page. now is the
// wall clock captured right before the read that produced h; all samples of
// one page must share it.
func Timestamp(h BatchHeader, now int64, i int) int64 {
	interval := int64(h.Interval)
	base := now - (int64(h.Offset) + int64(h.Elapsed)*interval)
	index := int64(h.Start) + int64(i)
	return base + index*interval
}

// IntervalDuration returns the page's sample spacing as a duration.
func (h BatchHeader) IntervalDuration() time.Duration {
	return time.Duration(h.Interval) * time.Second
}
