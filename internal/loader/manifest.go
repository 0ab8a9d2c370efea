// Package loader fetches HLS playlists and media segments over HTTP.
package loader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agleyzer/hlsplay/internal/manifest"
	"github.com/agleyzer/hlsplay/internal/variant"
)

// Getter fetches a URL body. *fetch.Client implements it.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Stream is the result of loading a stream URL. Media is set only when the
// URL pointed directly at a media playlist; Master then holds a single
// synthesized variant for it.
type Stream struct {
	Master *manifest.Master
	Media  *manifest.Media
}

// Manifests loads and validates playlists.
type Manifests struct {
	client Getter
	logger *slog.Logger
}

// NewManifests creates a manifest loader.
func NewManifests(client Getter, logger *slog.Logger) *Manifests {
	return &Manifests{client: client, logger: logger}
}

// LoadMaster fetches, validates and parses a master playlist.
func (m *Manifests) LoadMaster(ctx context.Context, url string) (*manifest.Master, error) {
	text, err := m.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return m.parseMaster(text, url)
}

// LoadMedia fetches, validates and parses a media playlist.
func (m *Manifests) LoadMedia(ctx context.Context, url string) (*manifest.Media, error) {
	text, err := m.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return m.parseMedia(text, url)
}

// LoadStream fetches url and accepts either a master or a media playlist.
func (m *Manifests) LoadStream(ctx context.Context, url string) (*Stream, error) {
	text, err := m.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if kind, ok := manifest.Detect(text); !ok || kind == manifest.KindMaster {
		master, err := m.parseMaster(text, url)
		if err != nil {
			return nil, err
		}
		return &Stream{Master: master}, nil
	}

	media, err := m.parseMedia(text, url)
	if err != nil {
		return nil, err
	}

	m.logger.Info("stream URL is a media playlist, using it as the only variant", "url", url)

	return &Stream{
		Master: &manifest.Master{Variants: []variant.Variant{{PlaylistURL: url}}},
		Media:  media,
	}, nil
}

func (m *Manifests) fetch(ctx context.Context, url string) (string, error) {
	body, err := m.client.Get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch playlist: %w", err)
	}
	return string(body), nil
}

func (m *Manifests) parseMaster(text, url string) (*manifest.Master, error) {
	master, err := manifest.ParseMaster(text, url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse master playlist %s: %w", url, err)
	}

	m.logger.Debug("loaded master playlist", "url", url, "variants", len(master.Variants))
	return master, nil
}

func (m *Manifests) parseMedia(text, url string) (*manifest.Media, error) {
	media, err := manifest.ParseMedia(text, url, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to parse media playlist %s: %w", url, err)
	}

	m.logger.Debug("loaded media playlist",
		"url", url,
		"segments", len(media.Segments),
		"mediaSequence", media.MediaSequence,
		"endList", media.EndList,
		"container", media.ContainerFormat,
	)
	return media, nil
}
