package adapter

import (
	"fmt"

	"github.com/harun/wabridge/pkg/events"
	"github.com/rs/zerolog"
)

// Options are the per-session construction parameters.
type Options struct {
	SessionID       string
	AuthDir         string
	Sink            Sink
	Media           *MediaResolver
	AnonymityMarker string
	Logger          zerolog.Logger
}

// Factory builds adapters for either variant from the configured client
// factories. A nil client factory disables that variant.
type Factory struct {
	Web             WebClientFactory
	Socket          SocketClientFactory
	Media           *MediaResolver
	AnonymityMarker string
	Logger          zerolog.Logger
}

// New builds an unconnected adapter for sessionID.
func (f *Factory) New(variant Variant, sessionID, authDir string, sink Sink) (Adapter, error) {
	if sink == nil {
		sink = func(events.Event) {}
	}

	media := f.Media
	if media == nil {
		media = NewMediaResolver(0, 0)
	}

	opts := Options{
		SessionID:       sessionID,
		AuthDir:         authDir,
		Sink:            sink,
		Media:           media,
		AnonymityMarker: f.AnonymityMarker,
		Logger:          f.Logger.With().Str("sessionId", sessionID).Logger(),
	}

	switch variant {
	case VariantWeb:
		if f.Web == nil {
			return nil, fmt.Errorf("%w: %s", ErrVariantUnavailable, variant)
		}
		a, err := newWebAdapter(opts, f.Web)
		if err != nil {
			return nil, err
		}
		return a, nil
	case VariantSocket:
		if f.Socket == nil {
			return nil, fmt.Errorf("%w: %s", ErrVariantUnavailable, variant)
		}
		a, err := newSocketAdapter(opts, f.Socket)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownVariant, variant)
	}
}

// Supports reports whether a client factory is configured for variant.
func (f *Factory) Supports(variant Variant) bool {
	switch variant {
	case VariantWeb:
		return f.Web != nil
	case VariantSocket:
		return f.Socket != nil
	}
	return false
}
