package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agleyzer/hlsplay/internal/fetch"
	"github.com/agleyzer/hlsplay/internal/segment"
)

func TestLoadSegment_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("segment-bytes"))
	}))
	defer server.Close()

	s := NewSegments(fetch.New(fetch.Options{}), DefaultSegmentOptions(), createTestLogger())
	sample, err := s.Load(context.Background(), segment.Segment{URL: server.URL + "/seg5.ts", Sequence: 5, Duration: 4.0})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if string(sample.Data) != "segment-bytes" {
		t.Errorf("Expected body, got %q", sample.Data)
	}
	if sample.Sequence != 5 || sample.Duration != 4.0 {
		t.Errorf("Expected sequence/duration carried through, got %d/%f", sample.Sequence, sample.Duration)
	}
}

func TestLoadSegment_ExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	opts := SegmentOptions{Timeout: time.Second, RetryCount: 3, RetryDelay: 50 * time.Millisecond}
	s := NewSegments(fetch.New(fetch.Options{}), opts, createTestLogger())

	start := time.Now()
	_, err := s.LoadSegment(context.Background(), server.URL+"/seg.ts", 1, 2.0, opts)
	elapsed := time.Since(start)

	var statusErr *fetch.HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Expected final HTTP 503 error, got %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", got)
	}
	// Two delays separate three attempts.
	if elapsed < 100*time.Millisecond {
		t.Errorf("Expected at least 2 retry delays, took %v", elapsed)
	}
}

func TestLoadSegment_NotFoundIsRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("late"))
	}))
	defer server.Close()

	opts := SegmentOptions{Timeout: time.Second, RetryCount: 3, RetryDelay: 10 * time.Millisecond}
	s := NewSegments(fetch.New(fetch.Options{}), opts, createTestLogger())

	sample, err := s.LoadSegment(context.Background(), server.URL+"/edge.ts", 42, 6.0, opts)
	if err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if string(sample.Data) != "late" {
		t.Errorf("Expected body from third attempt, got %q", sample.Data)
	}
}

func TestLoadSegment_NotFoundError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	opts := SegmentOptions{Timeout: time.Second, RetryCount: 2, RetryDelay: time.Millisecond}
	s := NewSegments(fetch.New(fetch.Options{}), opts, createTestLogger())

	_, err := s.LoadSegment(context.Background(), server.URL+"/gone.ts", 7, 6.0, opts)

	var nf *SegmentNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Expected *SegmentNotFoundError, got %v", err)
	}
	if nf.Sequence != 7 {
		t.Errorf("Expected sequence 7, got %d", nf.Sequence)
	}
	if !IsNotFound(err) || !fetch.IsNotFound(err) {
		t.Error("Expected 404 to be detectable through both helpers")
	}
}

func TestLoadSegment_Timeout(t *testing.T) {
	var attempts atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	opts := SegmentOptions{Timeout: 30 * time.Millisecond, RetryCount: 2, RetryDelay: time.Millisecond}
	s := NewSegments(fetch.New(fetch.Options{}), opts, createTestLogger())

	_, err := s.LoadSegment(context.Background(), server.URL+"/slow.ts", 3, 6.0, opts)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected *TimeoutError, got %v", err)
	}
	if timeoutErr.After != 30*time.Millisecond {
		t.Errorf("Expected timeout 30ms, got %v", timeoutErr.After)
	}
	if !timeoutErr.Timeout() {
		t.Error("Expected Timeout() to report true")
	}
	if !strings.Contains(err.Error(), "30ms") {
		t.Errorf("Expected the timeout in the message, got %q", err.Error())
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}
}

func TestLoadSegment_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	opts := SegmentOptions{Timeout: time.Second, RetryCount: 5, RetryDelay: time.Hour}
	s := NewSegments(fetch.New(fetch.Options{}), opts, createTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.LoadSegment(ctx, server.URL+"/seg.ts", 1, 1, opts)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected context deadline, got %v", err)
	}
}
