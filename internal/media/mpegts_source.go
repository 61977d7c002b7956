package media

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"hls-segmenter/internal/segmenter"
)

// timeDecoder removes the 33-bit wrap-around of MPEG-TS timestamps.
type timeDecoder struct {
	initialized bool
	prev        int64
	overall     int64
}

func (d *timeDecoder) decode(ts int64) int64 {
	if !d.initialized {
		d.initialized = true
		d.prev = ts
		d.overall = ts
		return ts
	}

	diff := (ts - d.prev) & timestampMask
	// negative difference
	if diff > (timestampMask >> 1) {
		diff -= timestampMask + 1
	}

	d.prev = ts
	d.overall += diff
	return d.overall
}

type sourceTrack struct {
	index   int
	codec   segmenter.Codec
	decoder timeDecoder
}

// MPEGTSSource reads packets from a MPEG-TS stream.
type MPEGTSSource struct {
	dem     *astits.Demuxer
	streams []segmenter.StreamInfo
	tracks  map[uint16]*sourceTrack
}

// NewMPEGTSSource reads r until the first PMT and returns a source for the
// streams it describes.
func NewMPEGTSSource(ctx context.Context, r io.Reader) (*MPEGTSSource, error) {
	s := &MPEGTSSource{
		dem:    astits.NewDemuxer(ctx, r),
		tracks: make(map[uint16]*sourceTrack),
	}

	for {
		data, err := s.dem.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				return nil, fmt.Errorf("%w: PMT not found", segmenter.ErrNoSuitableStream)
			}
			return nil, err
		}

		if data.PMT == nil {
			continue
		}

		for _, es := range data.PMT.ElementaryStreams {
			role, codec := streamCodec(es.StreamType)

			st := segmenter.StreamInfo{
				Index:    len(s.streams),
				Role:     role,
				Codec:    codec,
				TimeBase: segmenter.MPEGTSTimeBase,
			}

			s.streams = append(s.streams, st)
			s.tracks[es.ElementaryPID] = &sourceTrack{
				index: st.Index,
				codec: codec,
			}
		}

		return s, nil
	}
}

func streamCodec(t astits.StreamType) (segmenter.StreamRole, segmenter.Codec) {
	switch t {
	case astits.StreamTypeH264Video:
		return segmenter.RoleVideo, segmenter.CodecH264
	case astits.StreamTypeH265Video:
		return segmenter.RoleVideo, segmenter.CodecH265
	case astits.StreamTypeAACAudio:
		return segmenter.RoleAudio, segmenter.CodecAAC
	case astits.StreamTypeMPEG1Audio:
		return segmenter.RoleAudio, segmenter.CodecMP3
	}
	return segmenter.RoleOther, segmenter.CodecUnknown
}

// Streams implements segmenter.Demuxer.
func (s *MPEGTSSource) Streams() []segmenter.StreamInfo {
	return s.streams
}

// ReadPacket implements segmenter.Demuxer.
func (s *MPEGTSSource) ReadPacket() (*segmenter.Packet, error) {
	for {
		data, err := s.dem.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				return nil, io.EOF
			}
			return nil, err
		}

		if data.PES == nil {
			continue
		}

		track, ok := s.tracks[data.PID]
		if !ok {
			continue
		}

		pkt := &segmenter.Packet{
			StreamIndex: track.index,
			PTS:         segmenter.NoTimestamp,
			DTS:         segmenter.NoTimestamp,
			Payload:     data.PES.Data,
		}

		oh := data.PES.Header.OptionalHeader
		if oh != nil && oh.PTS != nil &&
			(oh.PTSDTSIndicator == astits.PTSDTSIndicatorOnlyPTS ||
				oh.PTSDTSIndicator == astits.PTSDTSIndicatorBothPresent) {
			pkt.PTS = track.decoder.decode(oh.PTS.Base)
			pkt.DTS = pkt.PTS

			if oh.PTSDTSIndicator == astits.PTSDTSIndicatorBothPresent && oh.DTS != nil {
				diff := (oh.PTS.Base - oh.DTS.Base) & timestampMask
				pkt.DTS = pkt.PTS - diff
			}
		}

		switch track.codec {
		case segmenter.CodecH264, segmenter.CodecH265:
			pkt.Keyframe = isRandomAccess(track.codec, pkt.Payload)

		case segmenter.CodecAAC:
			pkt.Keyframe = true
			pkt.Duration = adtsDuration(pkt.Payload)

		default:
			pkt.Keyframe = true
		}

		return pkt, nil
	}
}

func isRandomAccess(codec segmenter.Codec, payload []byte) bool {
	var au h264.AnnexB
	err := au.Unmarshal(payload)
	if err != nil {
		return false
	}

	if codec == segmenter.CodecH265 {
		return h265.IsRandomAccess(au)
	}
	return h264.IsRandomAccess(au)
}

// adtsDuration returns the duration of the ADTS frames in payload, in 90 kHz units.
func adtsDuration(payload []byte) int64 {
	var pkts mpeg4audio.ADTSPackets
	err := pkts.Unmarshal(payload)
	if err != nil {
		return 0
	}

	var d int64
	for _, pkt := range pkts {
		if pkt.SampleRate > 0 {
			d += int64(mpeg4audio.SamplesPerAccessUnit) * 90000 / int64(pkt.SampleRate)
		}
	}
	return d
}
