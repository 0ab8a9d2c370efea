package manifest

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/agleyzer/hlsplay/internal/segment"
	"github.com/agleyzer/hlsplay/internal/variant"
	"github.com/grafov/m3u8"
)

// ParseMaster parses master playlist text. Variant URLs are resolved against
// baseURL. No I/O is performed.
func ParseMaster(text, baseURL string) (*Master, error) {
	if err := scanTags(text).validate(KindMaster); err != nil {
		return nil, err
	}

	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil {
		return nil, newError(CodeParse, "decode master playlist", err)
	}
	if listType != m3u8.MASTER {
		return nil, newError(CodeNoVariants, "expected master playlist, got media playlist", nil)
	}

	masterPlaylist, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return nil, newError(CodeParse, "unexpected playlist type", nil)
	}

	var variants []variant.Variant
	for i, v := range masterPlaylist.Variants {
		if v == nil || v.Iframe {
			continue
		}

		variantURL, err := resolveURL(baseURL, v.URI)
		if err != nil {
			return nil, newError(CodeParse, fmt.Sprintf("variant %d", i), err)
		}

		variants = append(variants, variant.Variant{
			Bandwidth:   int(v.Bandwidth),
			Resolution:  v.Resolution,
			Codecs:      v.Codecs,
			PlaylistURL: variantURL,
		})
	}

	if len(variants) == 0 {
		return nil, newError(CodeNoVariants, "master playlist contains no variants", nil)
	}

	return &Master{Variants: variants}, nil
}

// ParseMedia parses media playlist text. Segment and initialization URLs are
// resolved against baseURL. Missing optional tags fall back to defaults and
// are reported as warnings on logger.
func ParseMedia(text, baseURL string, logger *slog.Logger) (*Media, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	tags := scanTags(text)
	if err := tags.validate(KindMedia); err != nil {
		return nil, err
	}

	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil {
		return nil, newError(CodeParse, "decode media playlist", err)
	}
	if listType != m3u8.MEDIA {
		return nil, newError(CodeNoSegments, "expected media playlist, got master playlist", nil)
	}

	mediaPlaylist, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, newError(CodeParse, "unexpected playlist type", nil)
	}

	media := &Media{
		Version:        DefaultVersion,
		TargetDuration: float64(mediaPlaylist.TargetDuration),
		MediaSequence:  int64(mediaPlaylist.SeqNo),
		EndList:        mediaPlaylist.Closed,
	}

	if tags.version {
		media.Version = int(mediaPlaylist.Version())
	}
	if !tags.targetDuration {
		logger.Warn("media playlist missing target duration, using 0", "url", baseURL)
		media.TargetDuration = 0
	}
	if !tags.mediaSequence {
		logger.Warn("media playlist missing media sequence, using 0", "url", baseURL)
		media.MediaSequence = 0
	}

	switch mediaPlaylist.MediaType {
	case m3u8.VOD:
		media.PlaylistType = PlaylistTypeVOD
	case m3u8.EVENT:
		media.PlaylistType = PlaylistTypeEvent
	}

	for i, seg := range mediaPlaylist.Segments {
		if seg == nil {
			break
		}

		segmentURL, err := resolveURL(baseURL, seg.URI)
		if err != nil {
			return nil, newError(CodeParse, fmt.Sprintf("segment %d", i), err)
		}

		media.Segments = append(media.Segments, segment.Segment{
			URL:      segmentURL,
			Duration: seg.Duration,
			Sequence: media.MediaSequence + int64(i),
		})
	}

	if len(media.Segments) == 0 {
		return nil, newError(CodeNoSegments, "media playlist contains no segments", nil)
	}

	if initURI := initSegmentURI(mediaPlaylist, tags.mapLine); initURI != "" {
		initURL, err := resolveURL(baseURL, initURI)
		if err != nil {
			return nil, newError(CodeParse, "initialization segment", err)
		}
		media.Init = &InitSegment{URI: initURL}
		media.ContainerFormat = FragmentedMP4
	} else {
		media.ContainerFormat = MPEGTS
	}

	return media, nil
}

// initSegmentURI finds the EXT-X-MAP URI, whether the decoder attached it to
// the playlist or to the first segment.
func initSegmentURI(p *m3u8.MediaPlaylist, mapLine string) string {
	if p.Map != nil && p.Map.URI != "" {
		return p.Map.URI
	}
	if len(p.Segments) > 0 && p.Segments[0] != nil && p.Segments[0].Map != nil {
		return p.Segments[0].Map.URI
	}
	if mapLine != "" {
		return attributeValue(strings.TrimPrefix(mapLine, tagMap), "URI")
	}
	return ""
}

// attributeValue extracts key from an attribute list such as
// `URI="init.mp4",BYTERANGE="720@0"`.
func attributeValue(attrs, key string) string {
	for len(attrs) > 0 {
		name, rest, ok := strings.Cut(attrs, "=")
		if !ok {
			return ""
		}
		name = strings.TrimSpace(name)

		var value string
		if strings.HasPrefix(rest, `"`) {
			end := strings.Index(rest[1:], `"`)
			if end < 0 {
				return ""
			}
			value = rest[1 : end+1]
			rest = rest[end+2:]
		} else {
			value, rest, _ = strings.Cut(rest, ",")
		}

		if name == key {
			return value
		}
		attrs = strings.TrimPrefix(rest, ",")
	}
	return ""
}

// resolveURL resolves a possibly relative URL against a base URL.
func resolveURL(baseURL, relativeURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	rel, err := url.Parse(strings.TrimSpace(relativeURL))
	if err != nil {
		return "", fmt.Errorf("invalid relative URL: %w", err)
	}

	return base.ResolveReference(rel).String(), nil
}
