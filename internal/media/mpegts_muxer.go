package media

import (
	"context"
	"fmt"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"hls-segmenter/internal/segmenter"
)

const (
	videoPID = 256
	audioPID = 257

	// timestamps are 33-bit wide.
	timestampMask = 0x1FFFFFFFF
)

// MPEGTSMuxer writes MPEG-TS segments. A single astits muxer is shared by all
// segment files, therefore continuity counters keep increasing across files.
type MPEGTSMuxer struct {
	video       *segmenter.StreamInfo
	audio       *segmenter.StreamInfo
	audioConfig *adtsConfig

	out        *output
	inner      *astits.Muxer
	pcrCounter int
}

// NewMPEGTSMuxer allocates a MPEGTSMuxer for the given streams.
func NewMPEGTSMuxer(streams []segmenter.StreamInfo) (*MPEGTSMuxer, error) {
	m := &MPEGTSMuxer{
		out: newOutput(),
	}

	for i := range streams {
		st := streams[i]
		switch st.Role {
		case segmenter.RoleVideo:
			m.video = &st
		case segmenter.RoleAudio:
			m.audio = &st
		}
	}

	if m.video == nil && m.audio == nil {
		return nil, segmenter.ErrNoSuitableStream
	}

	m.inner = astits.NewMuxer(context.Background(), m.out.bw)

	if m.video != nil {
		streamType, err := videoStreamType(m.video.Codec)
		if err != nil {
			return nil, err
		}

		err = m.inner.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: videoPID,
			StreamType:    streamType,
		})
		if err != nil {
			return nil, err
		}
	}

	if m.audio != nil {
		streamType, err := audioStreamType(m.audio.Codec)
		if err != nil {
			return nil, err
		}

		err = m.inner.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: audioPID,
			StreamType:    streamType,
		})
		if err != nil {
			return nil, err
		}

		if m.audio.Codec == segmenter.CodecAAC {
			m.audioConfig, err = newADTSConfig(m.audio.Extradata)
			if err != nil {
				return nil, err
			}
		}
	}

	if m.video != nil {
		m.inner.SetPCRPID(videoPID)
	} else {
		m.inner.SetPCRPID(audioPID)
	}

	return m, nil
}

func videoStreamType(c segmenter.Codec) (astits.StreamType, error) {
	switch c {
	case segmenter.CodecH264:
		return astits.StreamTypeH264Video, nil
	case segmenter.CodecH265:
		return astits.StreamTypeH265Video, nil
	}
	return 0, fmt.Errorf("video codec %s not supported in MPEG-TS", c)
}

func audioStreamType(c segmenter.Codec) (astits.StreamType, error) {
	switch c {
	case segmenter.CodecAAC:
		return astits.StreamTypeAACAudio, nil
	case segmenter.CodecMP3:
		return astits.StreamTypeMPEG1Audio, nil
	}
	return 0, fmt.Errorf("audio codec %s not supported in MPEG-TS", c)
}

// TimeBase implements segmenter.Muxer.
func (m *MPEGTSMuxer) TimeBase(segmenter.StreamRole) segmenter.TimeBase {
	return segmenter.MPEGTSTimeBase
}

// Open implements segmenter.Muxer.
// Every segment starts with PAT and PMT, so that it can be decoded on its own.
func (m *MPEGTSMuxer) Open(path string) error {
	err := m.out.open(path)
	if err != nil {
		return err
	}

	m.pcrCounter = 0

	_, err = m.inner.WriteTables()
	return err
}

// WriteHeader implements segmenter.Muxer.
func (m *MPEGTSMuxer) WriteHeader() error {
	return nil
}

// WritePacket implements segmenter.Muxer.
func (m *MPEGTSMuxer) WritePacket(pkt *segmenter.OutputPacket) error {
	switch pkt.Role {
	case segmenter.RoleVideo:
		return m.writeVideo(pkt)
	case segmenter.RoleAudio:
		return m.writeAudio(pkt)
	}
	return nil
}

func (m *MPEGTSMuxer) writeVideo(pkt *segmenter.OutputPacket) error {
	enc, err := prependAUD(m.video.Codec, pkt.Payload)
	if err != nil {
		return err
	}

	var af *astits.PacketAdaptationField

	if pkt.Keyframe {
		af = &astits.PacketAdaptationField{}
		af.RandomAccessIndicator = true
	}

	pts, dts := packetTimestamps(pkt)

	// send PCR once in a while
	if m.pcrCounter == 0 {
		if af == nil {
			af = &astits.PacketAdaptationField{}
		}
		af.HasPCR = true
		af.PCR = &astits.ClockReference{Base: dts}
		m.pcrCounter = 3
	}
	m.pcrCounter--

	oh := &astits.PESOptionalHeader{
		MarkerBits: 2,
	}

	if dts == pts {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorOnlyPTS
		oh.PTS = &astits.ClockReference{Base: pts}
	} else {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorBothPresent
		oh.DTS = &astits.ClockReference{Base: dts}
		oh.PTS = &astits.ClockReference{Base: pts}
	}

	_, err = m.inner.WriteData(&astits.MuxerData{
		PID:             videoPID,
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: oh,
				StreamID:       224, // video
			},
			Data: enc,
		},
	})
	return err
}

func (m *MPEGTSMuxer) writeAudio(pkt *segmenter.OutputPacket) error {
	enc := pkt.Payload

	if m.audio.Codec == segmenter.CodecAAC {
		var err error
		enc, err = m.audioConfig.wrap(pkt.Payload)
		if err != nil {
			return err
		}
	}

	af := &astits.PacketAdaptationField{
		RandomAccessIndicator: true,
	}

	pts, _ := packetTimestamps(pkt)

	if m.video == nil {
		// send PCR once in a while
		if m.pcrCounter == 0 {
			af.HasPCR = true
			af.PCR = &astits.ClockReference{Base: pts}
			m.pcrCounter = 3
		}
		m.pcrCounter--
	}

	_, err := m.inner.WriteData(&astits.MuxerData{
		PID:             audioPID,
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             &astits.ClockReference{Base: pts},
				},
				PacketLength: uint16(len(enc) + 8),
				StreamID:     192, // audio
			},
			Data: enc,
		},
	})
	return err
}

// Flush implements segmenter.Muxer.
func (m *MPEGTSMuxer) Flush() error {
	return m.out.flush()
}

// Close implements segmenter.Muxer.
func (m *MPEGTSMuxer) Close() (int64, error) {
	return m.out.close()
}

// packetTimestamps returns PTS and DTS on 33 bits. A missing PTS is replaced by the DTS.
func packetTimestamps(pkt *segmenter.OutputPacket) (int64, int64) {
	dts := pkt.DTS
	pts := pkt.PTS

	if pts == segmenter.NoTimestamp {
		pts = dts
	}
	if dts == segmenter.NoTimestamp {
		dts = pts
	}
	if pts == segmenter.NoTimestamp {
		return 0, 0
	}

	return pts & timestampMask, dts & timestampMask
}

// prependAUD prepends an access unit delimiter to an Annex-B access unit,
// unless it already starts with one. This is required by some players.
func prependAUD(codec segmenter.Codec, payload []byte) ([]byte, error) {
	var au h264.AnnexB
	err := au.Unmarshal(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid access unit: %w", err)
	}

	switch codec {
	case segmenter.CodecH264:
		if len(au) != 0 && len(au[0]) != 0 && h264.NALUType(au[0][0]&0x1F) == h264.NALUTypeAccessUnitDelimiter {
			return payload, nil
		}
		au = append([][]byte{{byte(h264.NALUTypeAccessUnitDelimiter), 240}}, au...)

	case segmenter.CodecH265:
		if len(au) != 0 && len(au[0]) != 0 && h265.NALUType((au[0][0]>>1)&0b111111) == h265.NALUType_AUD_NUT {
			return payload, nil
		}
		au = append([][]byte{{byte(h265.NALUType_AUD_NUT) << 1, 1, 0x50}}, au...)
	}

	return au.Marshal()
}
