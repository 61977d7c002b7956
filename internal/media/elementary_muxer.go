package media

import (
	"hls-segmenter/internal/segmenter"
)

// ElementaryMuxer writes audio-only segments as a raw elementary stream:
// ADTS for AAC, MPEG audio frames for MP3.
type ElementaryMuxer struct {
	stream segmenter.StreamInfo
	adts   *adtsConfig
	out    *output
}

// NewElementaryMuxer allocates an ElementaryMuxer for an audio stream.
func NewElementaryMuxer(stream segmenter.StreamInfo) (*ElementaryMuxer, error) {
	m := &ElementaryMuxer{
		stream: stream,
		out:    newOutput(),
	}

	switch stream.Codec {
	case segmenter.CodecAAC:
		var err error
		m.adts, err = newADTSConfig(stream.Extradata)
		if err != nil {
			return nil, err
		}

	case segmenter.CodecMP3:

	default:
		return nil, segmenter.ErrUnsupportedOutputFormat
	}

	return m, nil
}

// TimeBase implements segmenter.Muxer.
// Timestamps are kept in the time base of the source stream.
func (m *ElementaryMuxer) TimeBase(segmenter.StreamRole) segmenter.TimeBase {
	if m.stream.TimeBase.Den == 0 {
		return segmenter.MPEGTSTimeBase
	}
	return m.stream.TimeBase
}

// Open implements segmenter.Muxer.
func (m *ElementaryMuxer) Open(path string) error {
	return m.out.open(path)
}

// WriteHeader implements segmenter.Muxer.
func (m *ElementaryMuxer) WriteHeader() error {
	return nil
}

// WritePacket implements segmenter.Muxer.
func (m *ElementaryMuxer) WritePacket(pkt *segmenter.OutputPacket) error {
	if pkt.Role != segmenter.RoleAudio {
		return nil
	}

	enc := pkt.Payload

	if m.adts != nil {
		var err error
		enc, err = m.adts.wrap(pkt.Payload)
		if err != nil {
			return err
		}
	}

	_, err := m.out.bw.Write(enc)
	return err
}

// Flush implements segmenter.Muxer.
func (m *ElementaryMuxer) Flush() error {
	return m.out.flush()
}

// Close implements segmenter.Muxer.
func (m *ElementaryMuxer) Close() (int64, error) {
	return m.out.close()
}
