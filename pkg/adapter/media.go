package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// MediaKind is the category of an outbound attachment.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// ParseMediaKind validates a media kind name.
func ParseMediaKind(s string) (MediaKind, error) {
	switch k := MediaKind(s); k {
	case MediaImage, MediaAudio, MediaDocument:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMediaKind, s)
	}
}

// CarriesCaption reports whether captions are attached for this kind.
// Audio never carries one.
func (k MediaKind) CarriesCaption() bool {
	return k == MediaImage || k == MediaDocument
}

// MediaDescriptor references an attachment to send.
type MediaDescriptor struct {
	Ref  string
	Kind MediaKind
}

// MediaPayload is a resolved attachment. Exactly one of Data and Path is set.
type MediaPayload struct {
	Kind     MediaKind `json:"kind"`
	MimeType string    `json:"mimetype"`
	Data     []byte    `json:"data,omitempty"`
	Path     string    `json:"path,omitempty"`
	Filename string    `json:"filename,omitempty"`
}

// Buffered reports whether the payload carries fetched bytes.
func (p *MediaPayload) Buffered() bool {
	return p.Data != nil
}

func mimeTypeFor(kind MediaKind, variant Variant) string {
	switch kind {
	case MediaImage:
		return "image/jpeg"
	case MediaAudio:
		if variant == VariantSocket {
			return "audio/mp4"
		}
		return "audio/mp3"
	case MediaDocument:
		return "application/pdf"
	}
	return "application/octet-stream"
}

// IsRemoteRef reports whether ref is an HTTP(S) URL to be fetched.
func IsRemoteRef(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// MediaResolver turns media references into payloads. Remote references are
// downloaded into memory; anything else is handed to the backend as a path.
// Concurrent sends of the same URL share one download.
type MediaResolver struct {
	client   *http.Client
	maxBytes int64
	inflight singleflight.Group
}

// NewMediaResolver creates a resolver with a bounded fetch.
func NewMediaResolver(timeout time.Duration, maxBytes int64) *MediaResolver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	return &MediaResolver{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Resolve produces the payload for desc as the given variant expects it.
func (r *MediaResolver) Resolve(ctx context.Context, desc MediaDescriptor, variant Variant) (*MediaPayload, error) {
	kind, err := ParseMediaKind(string(desc.Kind))
	if err != nil {
		return nil, err
	}
	if desc.Ref == "" {
		return nil, fmt.Errorf("empty media reference")
	}

	payload := &MediaPayload{
		Kind:     kind,
		MimeType: mimeTypeFor(kind, variant),
	}

	if !IsRemoteRef(desc.Ref) {
		payload.Path = desc.Ref
		payload.Filename = filepath.Base(desc.Ref)
		return payload, nil
	}

	data, err := r.fetch(ctx, desc.Ref)
	if err != nil {
		return nil, err
	}
	payload.Data = data
	if u, err := url.Parse(desc.Ref); err == nil {
		payload.Filename = path.Base(u.Path)
	}
	return payload, nil
}

// fetch downloads ref, joining a download of the same URL already running.
// The shared download is bounded by the client timeout, not by any one
// caller's context.
func (r *MediaResolver) fetch(ctx context.Context, ref string) ([]byte, error) {
	ch := r.inflight.DoChan(ref, func() (any, error) {
		return r.download(context.WithoutCancel(ctx), ref)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch media: %w", ctx.Err())
	}
}

func (r *MediaResolver) download(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid media url: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", r.maxBytes)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}
