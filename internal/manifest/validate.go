package manifest

import (
	"bufio"
	"strings"
)

// Kind identifies the playlist flavour a text is validated as.
type Kind int

const (
	// KindMaster is a playlist listing variant streams.
	KindMaster Kind = iota
	// KindMedia is a playlist listing the segments of one rendition.
	KindMedia
)

// Line prefixes recognized by the tag scan.
const (
	tagM3U            = "#EXTM3U"
	tagStreamInf      = "#EXT-X-STREAM-INF:"
	tagInf            = "#EXTINF:"
	tagVersion        = "#EXT-X-VERSION:"
	tagTargetDuration = "#EXT-X-TARGETDURATION:"
	tagMediaSequence  = "#EXT-X-MEDIA-SEQUENCE:"
	tagPlaylistType   = "#EXT-X-PLAYLIST-TYPE:"
	tagMap            = "#EXT-X-MAP:"
	tagEndList        = "#EXT-X-ENDLIST"
)

// scan summarizes which tags appear in a playlist text.
type scan struct {
	marker         bool
	streamInfs     int
	infs           int
	version        bool
	targetDuration bool
	mediaSequence  bool
	mapLine        string
}

func scanTags(text string) scan {
	var s scan
	first := true

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			s.marker = strings.TrimPrefix(line, "\ufeff") == tagM3U
			continue
		}

		switch {
		case strings.HasPrefix(line, tagStreamInf):
			s.streamInfs++
		case strings.HasPrefix(line, tagInf):
			s.infs++
		case strings.HasPrefix(line, tagVersion):
			s.version = true
		case strings.HasPrefix(line, tagTargetDuration):
			s.targetDuration = true
		case strings.HasPrefix(line, tagMediaSequence):
			s.mediaSequence = true
		case strings.HasPrefix(line, tagMap):
			if s.mapLine == "" {
				s.mapLine = line
			}
		}
	}

	return s
}

// Validate checks the structurally required tags of a playlist before it is
// parsed: the #EXTM3U marker, and at least one variant (master) or segment
// (media) declaration. Optional tags are not checked here.
func Validate(text string, kind Kind) error {
	return scanTags(text).validate(kind)
}

func (s scan) validate(kind Kind) error {
	if !s.marker {
		return newError(CodeInvalidManifest, "playlist does not start with #EXTM3U", nil)
	}

	switch kind {
	case KindMaster:
		if s.streamInfs == 0 {
			return newError(CodeNoVariants, "master playlist has no #EXT-X-STREAM-INF", nil)
		}
	case KindMedia:
		if s.infs == 0 {
			return newError(CodeNoSegments, "media playlist has no #EXTINF", nil)
		}
	}

	return nil
}

// Detect guesses whether text is a master or a media playlist from the first
// variant or segment declaration. ok is false when neither is present.
func Detect(text string) (kind Kind, ok bool) {
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, tagStreamInf):
			return KindMaster, true
		case strings.HasPrefix(line, tagInf):
			return KindMedia, true
		}
	}
	return KindMedia, false
}
