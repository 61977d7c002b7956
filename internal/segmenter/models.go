package segmenter

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

// NoTimestamp marks a packet timestamp the source did not provide.
const NoTimestamp int64 = math.MinInt64

// TimeBase is the rational duration of one timestamp tick, in seconds.
type TimeBase struct {
	Num int64
	Den int64
}

// MPEGTSTimeBase is the 90 kHz clock used by MPEG-TS.
var MPEGTSTimeBase = TimeBase{Num: 1, Den: 90000}

// Seconds converts v ticks into seconds.
func (tb TimeBase) Seconds(v int64) float64 {
	if tb.Den == 0 {
		return 0
	}
	return float64(v) * float64(tb.Num) / float64(tb.Den)
}

func (tb TimeBase) String() string {
	return fmt.Sprintf("%d/%d", tb.Num, tb.Den)
}

// Rescale converts v from one time base to another, rounding half away from zero.
// NoTimestamp is passed through unchanged.
func Rescale(v int64, from, to TimeBase) int64 {
	if v == NoTimestamp || from == to {
		return v
	}

	num := new(big.Int).Mul(big.NewInt(v), big.NewInt(from.Num*to.Den))
	den := big.NewInt(from.Den * to.Num)
	if den.Sign() == 0 {
		return 0
	}

	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	// round half away from zero: compare 2*|rem| against |den|
	twice := new(big.Int).Abs(rem)
	twice.Lsh(twice, 1)
	if twice.Cmp(new(big.Int).Abs(den)) >= 0 {
		if num.Sign()*den.Sign() < 0 {
			quo.Sub(quo, big.NewInt(1))
		} else {
			quo.Add(quo, big.NewInt(1))
		}
	}
	return quo.Int64()
}

// StreamRole tells which output stream a source stream feeds.
type StreamRole int

// stream roles.
const (
	RoleOther StreamRole = iota
	RoleAudio
	RoleVideo
)

func (r StreamRole) String() string {
	switch r {
	case RoleAudio:
		return "audio"
	case RoleVideo:
		return "video"
	}
	return "other"
}

// Codec identifies the elementary stream codec of a source stream.
type Codec int

// supported codecs.
const (
	CodecUnknown Codec = iota
	CodecH264
	CodecH265
	CodecAAC
	CodecMP3
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "H264"
	case CodecH265:
		return "H265"
	case CodecAAC:
		return "AAC"
	case CodecMP3:
		return "MP3"
	}
	return "unknown"
}

// StreamInfo describes a source stream, as reported by the demuxer at initialization.
type StreamInfo struct {
	Index    int
	Role     StreamRole
	Codec    Codec
	TimeBase TimeBase

	// codec configuration (AudioSpecificConfig for AAC, parameter sets for video), if known.
	Extradata [][]byte
}

// Packet is a demuxed packet. Timestamps are expressed in the time base of its source stream.
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Duration    int64
	Keyframe    bool
	Payload     []byte
}

// OutputPacket is a packet ready to be muxed. Timestamps are expressed in TimeBase.
type OutputPacket struct {
	Role     StreamRole
	PTS      int64
	DTS      int64
	Duration int64
	TimeBase TimeBase
	Keyframe bool
	Payload  []byte
}

// PlaylistType is the HLS publishing mode.
type PlaylistType int

// publishing modes.
const (
	VOD PlaylistType = iota
	Live
	Event
)

func (t PlaylistType) String() string {
	switch t {
	case Live:
		return "live"
	case Event:
		return "event"
	}
	return "vod"
}

// ParsePlaylistType parses "vod", "live" or "event".
func ParsePlaylistType(s string) (PlaylistType, error) {
	switch strings.ToLower(s) {
	case "vod", "":
		return VOD, nil
	case "live":
		return Live, nil
	case "event":
		return Event, nil
	}
	return VOD, fmt.Errorf("invalid playlist type '%s'", s)
}

// MediaFilter selects which kinds of source streams are segmented.
type MediaFilter int

// media filters.
const (
	FilterAudio MediaFilter = 1 << iota
	FilterVideo

	FilterAll = FilterAudio | FilterVideo
)

// OutputFormat is the container used for segment files.
type OutputFormat int

// output formats.
const (
	FormatMPEGTS OutputFormat = iota
	FormatADTS
	FormatMP3
)

// Extension returns the file extension of segments in this format.
func (f OutputFormat) Extension() string {
	switch f {
	case FormatADTS:
		return "aac"
	case FormatMP3:
		return "mp3"
	}
	return "ts"
}

func (f OutputFormat) String() string {
	switch f {
	case FormatADTS:
		return "adts"
	case FormatMP3:
		return "mp3"
	}
	return "mpegts"
}

// Stats is a snapshot of the engine state.
type Stats struct {
	SegmentIndex        uint64  `json:"segment_index"`
	SegmentSequence     uint64  `json:"segment_sequence"`
	FileSequence        uint64  `json:"segment_file_sequence"`
	TargetDuration      float64 `json:"target_duration"`
	MaxDuration         float64 `json:"max_duration"`
	CurrentDuration     float64 `json:"current_segment_duration"`
	LastSegmentDuration float64 `json:"last_segment_duration"`
	LastSegmentBytes    int64   `json:"last_segment_bytes"`
	Position            float64 `json:"position"`
	AvgBitrate          float64 `json:"avg_bitrate"`
	MaxBitrate          float64 `json:"max_bitrate"`
	Extension           string  `json:"extension"`
	EndOfStream         bool    `json:"end_of_stream"`
}
