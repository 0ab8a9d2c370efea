package manifest

import (
	"errors"
	"reflect"
	"testing"

	"github.com/matryer/is"
)

const testMaster = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=640x360,CODECS="avc1.42c01e,mp4a.40.2"
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2560000,RESOLUTION=1280x720,CODECS="avc1.4d401f,mp4a.40.2"
https://cdn.example.com/high/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=640000
/audio/index.m3u8
`

const testMediaTS = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:100
#EXT-X-PLAYLIST-TYPE:VOD
#EXTINF:9.9,
segment100.ts
#EXTINF:10.0,
segment101.ts
#EXTINF:4.5,
segment102.ts
#EXT-X-ENDLIST
`

const testMediaFMP4 = `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:7
#EXT-X-MAP:URI="init.mp4"
#EXTINF:6.0,
seg7.m4s
#EXTINF:6.0,
seg8.m4s
`

func TestParseMaster(t *testing.T) {
	master, err := ParseMaster(testMaster, "http://example.com/live/master.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(master.Variants) != 3 {
		t.Fatalf("Expected 3 variants, got %d", len(master.Variants))
	}

	tests := []struct {
		bandwidth  int
		resolution string
		codecs     string
		url        string
	}{
		{1280000, "640x360", "avc1.42c01e,mp4a.40.2", "http://example.com/live/low/index.m3u8"},
		{2560000, "1280x720", "avc1.4d401f,mp4a.40.2", "https://cdn.example.com/high/index.m3u8"},
		{640000, "", "", "http://example.com/audio/index.m3u8"},
	}

	for i, want := range tests {
		got := master.Variants[i]
		if got.Bandwidth != want.bandwidth {
			t.Errorf("variant %d: Expected bandwidth %d, got %d", i, want.bandwidth, got.Bandwidth)
		}
		if got.Resolution != want.resolution {
			t.Errorf("variant %d: Expected resolution %q, got %q", i, want.resolution, got.Resolution)
		}
		if got.Codecs != want.codecs {
			t.Errorf("variant %d: Expected codecs %q, got %q", i, want.codecs, got.Codecs)
		}
		if got.PlaylistURL != want.url {
			t.Errorf("variant %d: Expected URL %s, got %s", i, want.url, got.PlaylistURL)
		}
	}
}

func TestParseMedia_TransportStream(t *testing.T) {
	is := is.New(t)

	media, err := ParseMedia(testMediaTS, "http://example.com/vod/index.m3u8", nil)
	is.NoErr(err)

	is.Equal(media.Version, 3)
	is.Equal(media.TargetDuration, 10.0)
	is.Equal(media.MediaSequence, int64(100))
	is.Equal(media.PlaylistType, PlaylistTypeVOD)
	is.True(media.EndList)
	is.True(!media.Live())
	is.Equal(media.ContainerFormat, MPEGTS)
	is.True(media.Init == nil)

	is.Equal(len(media.Segments), 3)
	for i, seg := range media.Segments {
		is.Equal(seg.Sequence, int64(100+i)) // sequence is media sequence plus position
	}
	is.Equal(media.Segments[0].Duration, 9.9)
	is.Equal(media.Segments[2].Duration, 4.5)
	is.Equal(media.Segments[1].URL, "http://example.com/vod/segment101.ts")
	is.Equal(media.LastSequence(), int64(102))
}

func TestParseMedia_FragmentedMP4(t *testing.T) {
	is := is.New(t)

	media, err := ParseMedia(testMediaFMP4, "http://example.com/live/index.m3u8", nil)
	is.NoErr(err)

	is.Equal(media.ContainerFormat, FragmentedMP4)
	is.True(media.Init != nil)
	is.Equal(media.Init.URI, "http://example.com/live/init.mp4")
	is.Equal(media.Version, 7)
	is.True(!media.EndList) // no end marker means live
	is.True(media.Live())
	is.Equal(media.Segments[0].Sequence, int64(7))
	is.Equal(media.Segments[1].Sequence, int64(8))
}

func TestParseMedia_Defaults(t *testing.T) {
	is := is.New(t)

	text := `#EXTM3U
#EXTINF:5.5,
segment0.ts
#EXTINF:8.2,
segment1.ts
`
	media, err := ParseMedia(text, "http://example.com/a/b.m3u8", nil)
	is.NoErr(err)

	is.Equal(media.Version, DefaultVersion)
	is.Equal(media.TargetDuration, 0.0)
	is.Equal(media.MediaSequence, int64(0))
	is.Equal(media.PlaylistType, "")
	is.Equal(media.Segments[0].Sequence, int64(0))
	is.Equal(media.Segments[1].Sequence, int64(1))
	is.True(!media.EndList)
}

func TestParse_Idempotent(t *testing.T) {
	first, err := ParseMedia(testMediaFMP4, "http://example.com/index.m3u8", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	second, err := ParseMedia(testMediaFMP4, "http://example.com/index.m3u8", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical results, got %+v and %+v", first, second)
	}

	m1, err := ParseMaster(testMaster, "http://example.com/master.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	m2, err := ParseMaster(testMaster, "http://example.com/master.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !reflect.DeepEqual(m1, m2) {
		t.Errorf("Expected identical master results")
	}
}

func TestParseMaster_Errors(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{name: "missing marker", text: "#EXT-X-STREAM-INF:BANDWIDTH=1\nlow.m3u8\n", wantErr: ErrInvalidManifest},
		{name: "no variants", text: "#EXTM3U\n#EXT-X-VERSION:3\n", wantErr: ErrNoVariants},
		{name: "media playlist", text: testMediaTS, wantErr: ErrNoVariants},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMaster(tt.text, "http://example.com/master.m3u8")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			var merr *ManifestError
			if !errors.As(err, &merr) {
				t.Fatalf("Expected *ManifestError, got %T", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		kind     Kind
		wantCode string
	}{
		{name: "no marker media", text: "#EXTINF:1,\na.ts\n", kind: KindMedia, wantCode: CodeInvalidManifest},
		{name: "no marker master", text: "garbage\n", kind: KindMaster, wantCode: CodeInvalidManifest},
		{name: "empty text", text: "", kind: KindMedia, wantCode: CodeInvalidManifest},
		{name: "master without variants", text: "#EXTM3U\n", kind: KindMaster, wantCode: CodeNoVariants},
		{name: "media without segments", text: "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXT-X-ENDLIST\n", kind: KindMedia, wantCode: CodeNoSegments},
		{name: "valid media", text: testMediaTS, kind: KindMedia},
		{name: "valid master", text: testMaster, kind: KindMaster},
		{name: "leading blank lines and BOM", text: "\n\ufeff#EXTM3U\n#EXTINF:1,\na.ts\n", kind: KindMedia},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.text, tt.kind)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			var merr *ManifestError
			if !errors.As(err, &merr) {
				t.Fatalf("Expected *ManifestError, got %v", err)
			}
			if merr.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, merr.Code)
			}
		})
	}
}

func TestDetect(t *testing.T) {
	if kind, ok := Detect(testMaster); !ok || kind != KindMaster {
		t.Errorf("Expected master, got %v (ok=%v)", kind, ok)
	}
	if kind, ok := Detect(testMediaTS); !ok || kind != KindMedia {
		t.Errorf("Expected media, got %v (ok=%v)", kind, ok)
	}
	if _, ok := Detect("#EXTM3U\n"); ok {
		t.Error("Expected detection to fail for empty playlist")
	}
}

func TestNewSegments(t *testing.T) {
	is := is.New(t)

	prev, err := ParseMedia(testMediaFMP4, "http://example.com/index.m3u8", nil)
	is.NoErr(err)

	// Same playlist again: nothing new.
	is.Equal(len(NewSegments(prev, prev)), 0)

	next, err := ParseMedia(`#EXTM3U
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:8
#EXT-X-MAP:URI="init.mp4"
#EXTINF:6.0,
seg8.m4s
#EXTINF:6.0,
seg9.m4s
#EXTINF:6.0,
seg10.m4s
`, "http://example.com/index.m3u8", nil)
	is.NoErr(err)

	fresh := NewSegments(prev, next)
	is.Equal(len(fresh), 2)
	is.Equal(fresh[0].Sequence, int64(9))
	is.Equal(fresh[1].Sequence, int64(10))

	is.Equal(len(NewSegments(nil, next)), 3)
}

func TestAttributeValue(t *testing.T) {
	tests := []struct {
		attrs string
		key   string
		want  string
	}{
		{`URI="init.mp4"`, "URI", "init.mp4"},
		{`BYTERANGE="720@0",URI="a/b,c.mp4"`, "URI", "a/b,c.mp4"},
		{`METHOD=NONE,URI="k"`, "METHOD", "NONE"},
		{`URI="x"`, "BYTERANGE", ""},
	}
	for _, tt := range tests {
		if got := attributeValue(tt.attrs, tt.key); got != tt.want {
			t.Errorf("attributeValue(%q, %q) = %q, want %q", tt.attrs, tt.key, got, tt.want)
		}
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name        string
		baseURL     string
		relativeURL string
		expected    string
	}{
		{"relative path", "http://example.com/path/playlist.m3u8", "segment.ts", "http://example.com/path/segment.ts"},
		{"absolute URL", "http://example.com/playlist.m3u8", "https://cdn.example.com/segment.ts", "https://cdn.example.com/segment.ts"},
		{"relative path with subdirectory", "http://example.com/playlist.m3u8", "segments/segment.ts", "http://example.com/segments/segment.ts"},
		{"root relative path", "http://example.com/path/playlist.m3u8", "/segments/segment.ts", "http://example.com/segments/segment.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := resolveURL(tt.baseURL, tt.relativeURL)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if result != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result)
			}
		})
	}
}
