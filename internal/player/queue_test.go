package player

import (
	"bytes"
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/agleyzer/hlsplay/internal/buffer"
	"github.com/agleyzer/hlsplay/internal/buffer/memsink"
	"github.com/agleyzer/hlsplay/internal/manifest"
	"github.com/agleyzer/hlsplay/internal/segment"
)

func sample(seq int64, data string) *segment.Sample {
	return &segment.Sample{Data: []byte(data), Sequence: seq, Duration: 4}
}

func TestAppendQueue_Order(t *testing.T) {
	is := is.New(t)

	var q appendQueue
	q.push(sample(3, "c"))
	q.push(sample(1, "a"))
	q.push(sample(2, "b"))
	is.Equal(q.len(), 3)
	is.True(q.has(2))
	is.True(!q.has(4))
	is.Equal(q.duration(), 12.0)

	var got []int64
	last := int64(0)
	for s := q.next(last); s != nil; s = q.next(last) {
		got = append(got, s.Sequence)
		last = s.Sequence
	}
	is.Equal(got, []int64{1, 2, 3})
	is.Equal(q.len(), 0)
}

func TestAppendQueue_Gaps(t *testing.T) {
	tests := []struct {
		name   string
		queued []int64
		last   int64
		want   int64 // -1 for none
		remain int
	}{
		{"contiguous", []int64{5, 6}, 4, 5, 1},
		{"gap", []int64{6, 7}, 4, -1, 2},
		{"stale dropped", []int64{2, 3, 5}, 4, 5, 0},
		{"empty", nil, 4, -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q appendQueue
			for _, seq := range tt.queued {
				q.push(sample(seq, "x"))
			}

			s := q.next(tt.last)
			switch {
			case tt.want < 0 && s != nil:
				t.Errorf("Expected no sample, got %d", s.Sequence)
			case tt.want >= 0 && (s == nil || s.Sequence != tt.want):
				t.Errorf("Expected sample %d, got %v", tt.want, s)
			}
			if q.len() != tt.remain {
				t.Errorf("Expected %d queued, got %d", tt.remain, q.len())
			}
		})
	}
}

func TestAppendQueue_ReplacesDuplicate(t *testing.T) {
	var q appendQueue
	q.push(sample(1, "old"))
	q.push(sample(1, "new"))

	if q.len() != 1 {
		t.Fatalf("Expected 1 queued, got %d", q.len())
	}
	if s := q.next(0); string(s.Data) != "new" {
		t.Errorf("Expected replacement sample, got %q", s.Data)
	}
}

func TestDrain_AppendsInSequenceOrder(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	var recorded bytes.Buffer
	sink := memsink.New(memsink.WithOutput(&recorded))
	manifests := newFakeManifests(twoLevelMaster())
	c, err := New(DefaultConfig(), manifests, newFakeSegments(), sink, &fakePlayhead{}, createTestLogger())
	is.NoErr(err)
	defer c.Dispose()

	adapter, err := buffer.Open(ctx, sink, "video/mp2t", manifest.MPEGTS, "", nil, createTestLogger())
	is.NoErr(err)

	c.mu.Lock()
	c.adapter = adapter
	c.media = mediaPlaylist("http://origin/a", 1, 3, 4, true)
	c.lastAppended = 0
	c.queue.push(sample(3, "3"))
	c.queue.push(sample(1, "1"))
	c.queue.push(sample(2, "2"))
	gen := c.generation
	c.mu.Unlock()

	blocked, err := c.drain(ctx, gen, adapter)
	is.NoErr(err)
	is.True(!blocked)

	is.Equal(recorded.String(), "123")
	is.Equal(c.Stats().LastSequence, int64(3))
	is.Equal(c.Stats().SegmentsAppended, 3)
}

func TestDrain_WaitsForGap(t *testing.T) {
	ctx := context.Background()

	var recorded bytes.Buffer
	sink := memsink.New(memsink.WithOutput(&recorded))
	c, err := New(DefaultConfig(), newFakeManifests(twoLevelMaster()), newFakeSegments(), sink, &fakePlayhead{}, createTestLogger())
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	defer c.Dispose()

	adapter, err := buffer.Open(ctx, sink, "video/mp2t", manifest.MPEGTS, "", nil, createTestLogger())
	if err != nil {
		t.Fatalf("Failed to open adapter: %v", err)
	}

	c.mu.Lock()
	c.adapter = adapter
	c.media = mediaPlaylist("http://origin/a", 1, 3, 4, true)
	c.lastAppended = 0
	c.queue.push(sample(2, "2"))
	c.queue.push(sample(3, "3"))
	c.mu.Unlock()

	if _, err := c.drain(ctx, 0, adapter); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if recorded.Len() != 0 {
		t.Fatalf("Expected nothing appended before segment 1, got %q", recorded.String())
	}

	c.mu.Lock()
	c.queue.push(sample(1, "1"))
	c.mu.Unlock()

	if _, err := c.drain(ctx, 0, adapter); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if recorded.String() != "123" {
		t.Errorf("Expected appends 123, got %q", recorded.String())
	}
}
