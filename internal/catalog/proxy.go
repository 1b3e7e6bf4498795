package catalog

import (
	"context"
	"errors"

	"github.com/h2non/filetype"
	"go.uber.org/zap"
)

const defaultAudioContentType = "audio/wav"

// Audio is source audio fetched through a catalog proxy.
type Audio struct {
	Data        []byte
	ContentType string
	Source      string
}

// ProxyAudio looks up audio for a sample across sources. dataset may be
// source-qualified; an explicit source takes precedence over the encoded one.
// Every source in the lookup order is tried before ErrAudioNotFound is
// returned. Unreachable sources are skipped.
func (c *Client) ProxyAudio(ctx context.Context, reg *Registry, source, dataset, filename string) (*Audio, error) {
	encodedSource, rawDataset := reg.DecodeDataset(dataset)
	if source == "" {
		source = encodedSource
	}

	for _, src := range reg.AudioOrder(source) {
		data, err := c.FetchAudio(ctx, src, rawDataset, filename)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, ErrAudioNotFound) {
				c.logger.Debug("audio source unreachable", zap.String("source", src.Name), zap.Error(err))
			}
			continue
		}
		return &Audio{Data: data, ContentType: sniffContentType(data), Source: src.Name}, nil
	}
	return nil, ErrAudioNotFound
}

func sniffContentType(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || kind.MIME.Value == "" {
		return defaultAudioContentType
	}
	return kind.MIME.Value
}
