package media

import (
	"bytes"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"hls-segmenter/internal/segmenter"
)

// AnnexBFilter converts H264 and H265 access units into Annex-B format,
// the only framing allowed in MPEG-TS.
type AnnexBFilter struct {
	codec  segmenter.Codec
	params [][]byte
}

// NewAnnexBFilter allocates an AnnexBFilter. Parameter sets found in the
// stream extradata are inserted before keyframes that do not carry them.
func NewAnnexBFilter(stream segmenter.StreamInfo) (*AnnexBFilter, error) {
	switch stream.Codec {
	case segmenter.CodecH264, segmenter.CodecH265:
	default:
		return nil, fmt.Errorf("codec %s can't be converted to Annex-B", stream.Codec)
	}

	f := &AnnexBFilter{
		codec: stream.Codec,
	}

	for _, p := range stream.Extradata {
		if hasStartCode(p) {
			var au h264.AnnexB
			err := au.Unmarshal(p)
			if err != nil {
				return nil, fmt.Errorf("invalid parameter sets: %w", err)
			}
			f.params = append(f.params, au...)
		} else if len(p) != 0 {
			f.params = append(f.params, p)
		}
	}

	return f, nil
}

// Filter implements segmenter.BitstreamFilter.
// Payloads are treated as length-prefixed when they decode as such exactly,
// since a length-prefixed NAL unit of 256 to 511 bytes starts like a start code.
func (f *AnnexBFilter) Filter(payload []byte, keyframe bool) ([]byte, error) {
	insertParams := keyframe && len(f.params) != 0

	var au [][]byte

	var avcc h264.AVCC
	avccErr := avcc.Unmarshal(payload)

	switch {
	case avccErr == nil:
		au = avcc

	case hasStartCode(payload):
		if !insertParams {
			return payload, nil
		}

		var annexb h264.AnnexB
		err := annexb.Unmarshal(payload)
		if err != nil {
			return nil, err
		}
		au = annexb

	default:
		return nil, fmt.Errorf("invalid access unit: %w", avccErr)
	}

	if insertParams && !f.hasParams(au) {
		au = append(append([][]byte(nil), f.params...), au...)
	}

	return h264.AnnexB(au).Marshal()
}

func (f *AnnexBFilter) hasParams(au [][]byte) bool {
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}

		switch f.codec {
		case segmenter.CodecH264:
			if h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeSPS {
				return true
			}

		case segmenter.CodecH265:
			if h265.NALUType((nalu[0]>>1)&0b111111) == h265.NALUType_SPS_NUT {
				return true
			}
		}
	}
	return false
}

func hasStartCode(p []byte) bool {
	return bytes.HasPrefix(p, []byte{0, 0, 1}) || bytes.HasPrefix(p, []byte{0, 0, 0, 1})
}
