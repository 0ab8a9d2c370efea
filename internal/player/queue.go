package player

import (
	"sort"

	"github.com/agleyzer/hlsplay/internal/segment"
)

// appendQueue holds downloaded samples ordered by sequence until they can be
// appended contiguously.
type appendQueue struct {
	samples []*segment.Sample
}

// push inserts s in sequence order. A sample with the same sequence replaces
// the queued one.
func (q *appendQueue) push(s *segment.Sample) {
	i := sort.Search(len(q.samples), func(i int) bool {
		return q.samples[i].Sequence >= s.Sequence
	})
	if i < len(q.samples) && q.samples[i].Sequence == s.Sequence {
		q.samples[i] = s
		return
	}
	q.samples = append(q.samples, nil)
	copy(q.samples[i+1:], q.samples[i:])
	q.samples[i] = s
}

// next pops the sample that directly follows last. Samples at or before last
// are stale and dropped. It returns nil when the lowest queued sample leaves
// a gap.
func (q *appendQueue) next(last int64) *segment.Sample {
	q.dropThrough(last)
	if len(q.samples) == 0 || q.samples[0].Sequence != last+1 {
		return nil
	}
	s := q.samples[0]
	q.samples = q.samples[1:]
	return s
}

func (q *appendQueue) has(sequence int64) bool {
	i := sort.Search(len(q.samples), func(i int) bool {
		return q.samples[i].Sequence >= sequence
	})
	return i < len(q.samples) && q.samples[i].Sequence == sequence
}

// dropThrough removes every sample with a sequence up to and including seq.
func (q *appendQueue) dropThrough(seq int64) {
	i := sort.Search(len(q.samples), func(i int) bool {
		return q.samples[i].Sequence > seq
	})
	q.samples = q.samples[i:]
}

// duration returns the seconds of media held in the queue.
func (q *appendQueue) duration() float64 {
	var d float64
	for _, s := range q.samples {
		d += s.Duration
	}
	return d
}

func (q *appendQueue) len() int {
	return len(q.samples)
}

func (q *appendQueue) clear() {
	q.samples = nil
}
