// Package media contains the container muxers, the MPEG-TS source and the
// bitstream filters used by the segmenter.
package media

import (
	"fmt"

	"hls-segmenter/internal/segmenter"
)

// Formats implements segmenter.Formats.
type Formats struct{}

// NewMuxer implements segmenter.Formats.
func (Formats) NewMuxer(format segmenter.OutputFormat, streams []segmenter.StreamInfo) (segmenter.Muxer, error) {
	switch format {
	case segmenter.FormatMPEGTS:
		return NewMPEGTSMuxer(streams)

	case segmenter.FormatADTS, segmenter.FormatMP3:
		for _, st := range streams {
			if st.Role == segmenter.RoleAudio {
				return NewElementaryMuxer(st)
			}
		}
		return nil, segmenter.ErrNoSuitableStream
	}

	return nil, fmt.Errorf("format %s not supported", format)
}

// NewFilter implements segmenter.Formats.
func (Formats) NewFilter(stream segmenter.StreamInfo) (segmenter.BitstreamFilter, error) {
	switch stream.Codec {
	case segmenter.CodecH264, segmenter.CodecH265:
		return NewAnnexBFilter(stream)
	}
	return nil, nil
}
