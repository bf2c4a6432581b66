package recorder

import (
	"fmt"
	"time"
)

// perfStats measures the loop period between timing records.
type perfStats struct {
	start time.Time
	last  time.Time
	count int
	min   time.Duration
	max   time.Duration
	sum   time.Duration
}

func (p *perfStats) sample(now time.Time) {
	if p.last.IsZero() {
		p.start = now
		p.last = now
		return
	}
	d := now.Sub(p.last)
	p.last = now
	if p.count == 0 || d < p.min {
		p.min = d
	}
	if d > p.max {
		p.max = d
	}
	p.sum += d
	p.count++
}

func (p *perfStats) due(now time.Time, interval time.Duration) bool {
	return p.count > 0 && now.Sub(p.start) >= interval
}

// record renders "PS <time> LPTM <samples> <min> <avg> <max>" with
// periods in microseconds and starts the next interval.
func (p *perfStats) record(now time.Time) []byte {
	avg := p.sum / time.Duration(p.count)
	line := fmt.Sprintf("PS %d LPTM %d %d %d %d\n", stamp(now), p.count,
		p.min.Microseconds(), avg.Microseconds(), p.max.Microseconds())
	p.start = now
	p.count = 0
	p.min, p.max, p.sum = 0, 0, 0
	return []byte(line)
}
