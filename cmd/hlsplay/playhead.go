package main

import (
	"sync"

	"github.com/agleyzer/hlsplay/internal/buffer"
)

// playheadTolerance lets the playhead start slightly before a buffered range.
const playheadTolerance = 0.1

// simPlayhead advances in wall-clock time while media is buffered at its
// position, the way a media element would. It starts at the first buffered
// time unless it was seeked before.
type simPlayhead struct {
	mu       sync.Mutex
	position float64
	started  bool
	stalled  bool
}

// CurrentTime implements player.Playhead.
func (p *simPlayhead) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Seek implements player.Playhead.
func (p *simPlayhead) Seek(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = t
	p.started = true
}

// advance plays dt seconds of ranges. It reports a stall when the position
// runs out of buffered media, and a resume when media arrives again.
func (p *simPlayhead) advance(ranges []buffer.TimeRange, dt float64) (stalled, resumed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		if len(ranges) == 0 {
			return false, false
		}
		p.position = ranges[0].Start
		p.started = true
	}

	ahead := buffer.Ahead(ranges, p.position, playheadTolerance)
	if ahead <= 0 {
		if p.stalled {
			return false, false
		}
		p.stalled = true
		return true, false
	}

	resumed = p.stalled
	p.stalled = false
	for _, r := range ranges {
		if p.position >= r.Start-playheadTolerance && p.position < r.End {
			p.position = min(max(p.position, r.Start)+dt, r.End)
			break
		}
	}
	return false, resumed
}

// remaining returns the seconds of ranges buffered ahead of the playhead.
func (p *simPlayhead) remaining(ranges []buffer.TimeRange) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return buffer.Ahead(ranges, p.position, playheadTolerance)
}
