// Package buffer adapts a platform media sink for the playback controller.
//
// The sink accepts one mutation (append or remove) at a time and reports
// completion asynchronously. Adapter enforces that discipline: it never
// issues a mutation while another is outstanding.
package buffer

import (
	"context"
	"fmt"

	"github.com/agleyzer/hlsplay/internal/manifest"
)

// ReadyState is the readiness of a Sink.
type ReadyState int

const (
	ReadyClosed ReadyState = iota
	ReadyOpen
	ReadyEnded
)

func (s ReadyState) String() string {
	switch s {
	case ReadyClosed:
		return "closed"
	case ReadyOpen:
		return "open"
	case ReadyEnded:
		return "ended"
	default:
		return fmt.Sprintf("ReadyState(%d)", int(s))
	}
}

// Sink is the platform media sink. It is provided by the embedding player.
type Sink interface {
	ReadyState() ReadyState
	AddSourceBuffer(mimeType string) (SourceBuffer, error)
	RemoveSourceBuffer(sb SourceBuffer) error
	EndOfStream() error
}

// SourceBuffer is a single-writer buffer created by a Sink.
//
// AppendBuffer and Remove start an asynchronous mutation and return at once.
// A non-nil return means the mutation was rejected and done is never called.
// Otherwise done is called exactly once when the mutation completes, and
// Updating reports true until then.
type SourceBuffer interface {
	Updating() bool
	AppendBuffer(data []byte, done func(error)) error
	Remove(start, end float64, done func(error)) error
	Buffered() []TimeRange
}

// InitLoader fetches initialization segments.
type InitLoader interface {
	LoadInit(ctx context.Context, uri string) ([]byte, error)
}

// MimeType builds the source buffer MIME type for a container and codec list.
func MimeType(format manifest.ContainerFormat, codecs string) string {
	mime := "video/mp2t"
	if format == manifest.FragmentedMP4 {
		mime = "video/mp4"
	}
	if codecs != "" {
		mime += fmt.Sprintf("; codecs=%q", codecs)
	}
	return mime
}
