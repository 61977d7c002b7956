// Package segmenter splits a packet stream into HLS segments and renders playlists describing them.
package segmenter

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
)

// DefaultTargetDuration is the default segment target duration, in seconds.
const DefaultTargetDuration = 10

// Config contains the segmenter parameters.
type Config struct {
	// directory where segments and playlists are written.
	FileBase string
	// segment file name prefix.
	MediaBase string
	// desired segment duration, in seconds.
	TargetDuration float64
	Filter         MediaFilter
	Type           PlaylistType
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithLogger sets the logger used by the segmenter.
func WithLogger(log *slog.Logger) Option {
	return func(s *Segmenter) {
		s.log = log
	}
}

// WithRemover sets how expired segment files are deleted.
func WithRemover(r Remover) Option {
	return func(s *Segmenter) {
		s.remover = r
	}
}

// Segmenter decides where segment boundaries fall and drives the segment
// files lifecycle. It is not safe for concurrent use.
type Segmenter struct {
	conf    Config
	log     *slog.Logger
	muxer   Muxer
	filter  BitstreamFilter
	remover Remover

	video     *StreamInfo
	audio     *StreamInfo
	format    OutputFormat
	extension string

	segmentIndex    uint64
	segmentSequence uint64
	fileSequence    uint64
	segmentDuration float64

	hasBoundary  bool
	lastBoundary int64
	lastEnd      int64
	lastDTS      int64
	position     float64
	lastBytes    int64

	opened      bool
	endOfStream bool

	ledger  *Ledger
	bitrate Bitrate
}

// New allocates a Segmenter for the given source streams.
func New(conf Config, streams []StreamInfo, formats Formats, opts ...Option) (*Segmenter, error) {
	if conf.TargetDuration <= 0 {
		conf.TargetDuration = DefaultTargetDuration
	}
	if conf.Filter == 0 {
		conf.Filter = FilterAll
	}

	s := &Segmenter{
		conf:    conf,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		remover: osRemover,
		ledger:  NewLedger(),
	}

	for _, o := range opts {
		o(s)
	}

	for i := range streams {
		st := streams[i]
		if st.Codec == CodecUnknown {
			continue
		}

		switch st.Role {
		case RoleVideo:
			if s.video == nil && conf.Filter&FilterVideo != 0 {
				s.video = &st
			}

		case RoleAudio:
			if s.audio == nil && conf.Filter&FilterAudio != 0 {
				s.audio = &st
			}
		}
	}

	if s.video == nil && s.audio == nil {
		return nil, ErrNoSuitableStream
	}

	s.format = FormatMPEGTS
	if s.video == nil {
		switch s.audio.Codec {
		case CodecAAC:
			s.format = FormatADTS
		case CodecMP3:
			s.format = FormatMP3
		}
	}
	s.extension = s.format.Extension()

	var selected []StreamInfo
	if s.video != nil {
		selected = append(selected, *s.video)
	}
	if s.audio != nil {
		selected = append(selected, *s.audio)
	}

	var err error
	s.muxer, err = formats.NewMuxer(s.format, selected)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedOutputFormat, s.format, err)
	}

	if s.video != nil {
		s.filter, err = formats.NewFilter(*s.video)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedOutputFormat, s.video.Codec, err)
		}
	}

	return s, nil
}

// Open opens the first segment file.
func (s *Segmenter) Open() error {
	if s.opened {
		return nil
	}

	err := s.startSegment()
	if err != nil {
		return err
	}

	s.opened = true
	return nil
}

// Close closes the last segment, whatever its duration, and marks the end of the stream.
func (s *Segmenter) Close() error {
	if s.endOfStream {
		return nil
	}
	s.endOfStream = true

	if !s.opened {
		return nil
	}

	if s.hasBoundary && s.lastEnd != NoTimestamp {
		tb := s.muxer.TimeBase(s.boundaryRole())
		s.segmentDuration = max(s.segmentDuration, tb.Seconds(s.lastEnd-s.lastBoundary))
	}

	return s.finishSegment()
}

// WritePacket processes a demuxed packet.
func (s *Segmenter) WritePacket(pkt *Packet) error {
	if s.endOfStream {
		return fmt.Errorf("stream has ended")
	}

	var in *StreamInfo
	switch {
	case s.video != nil && pkt.StreamIndex == s.video.Index:
		in = s.video
	case s.audio != nil && pkt.StreamIndex == s.audio.Index:
		in = s.audio
	default:
		return nil
	}

	if !s.opened {
		err := s.Open()
		if err != nil {
			return err
		}
	}

	tb := s.muxer.TimeBase(in.Role)

	opkt := &OutputPacket{
		Role:     in.Role,
		PTS:      Rescale(pkt.PTS, in.TimeBase, tb),
		Duration: Rescale(pkt.Duration, in.TimeBase, tb),
		TimeBase: tb,
		Keyframe: pkt.Keyframe,
		Payload:  pkt.Payload,
	}

	if pkt.DTS == NoTimestamp {
		opkt.DTS = s.lastDTS
	} else {
		opkt.DTS = Rescale(pkt.DTS, in.TimeBase, tb)
		s.lastDTS = opkt.DTS
	}

	if in.Role == RoleVideo && s.filter != nil {
		var err error
		opkt.Payload, err = s.filter.Filter(pkt.Payload, pkt.Keyframe)
		if err != nil {
			return fmt.Errorf("unable to filter video packet: %w", err)
		}
	}

	if opkt.PTS != NoTimestamp {
		s.position = tb.Seconds(opkt.PTS)
	}

	// when video is present, segments can only start at video keyframes.
	if in.Role == s.boundaryRole() && opkt.PTS != NoTimestamp {
		if !s.hasBoundary {
			s.hasBoundary = true
			s.lastBoundary = opkt.PTS
			s.lastEnd = opkt.PTS
		}

		if s.video == nil || opkt.Keyframe {
			s.segmentDuration = tb.Seconds(opkt.PTS - s.lastBoundary)

			if s.segmentDuration >= s.conf.TargetDuration {
				err := s.commitBoundary(opkt.PTS)
				if err != nil {
					return err
				}
			}
		}

		s.lastEnd = max(s.lastEnd, opkt.PTS+opkt.Duration)
	}

	err := s.muxer.WritePacket(opkt)
	if err != nil {
		return fmt.Errorf("%w: segment %d: %w", ErrFileWrite, s.segmentIndex, err)
	}

	return nil
}

func (s *Segmenter) boundaryRole() StreamRole {
	if s.video != nil {
		return RoleVideo
	}
	return RoleAudio
}

func (s *Segmenter) commitBoundary(pts int64) error {
	s.lastBoundary = pts

	err := s.finishSegment()
	if err != nil {
		return err
	}

	err = s.startSegment()
	if err != nil {
		return err
	}

	s.lastEnd = pts
	return nil
}

func (s *Segmenter) startSegment() error {
	path := s.SegmentPath(s.segmentIndex)

	err := s.muxer.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFileWrite, path, err)
	}

	if s.segmentIndex == 0 {
		err = s.muxer.WriteHeader()
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrFileWrite, path, err)
		}
	}

	s.log.Debug("segment opened",
		slog.Uint64("segment", s.segmentIndex),
		slog.String("path", path))

	return nil
}

func (s *Segmenter) finishSegment() error {
	err := s.muxer.Flush()
	if err != nil {
		return fmt.Errorf("%w: segment %d: %w", ErrFileWrite, s.segmentIndex, err)
	}

	size, err := s.muxer.Close()
	if err != nil {
		return fmt.Errorf("%w: segment %d: %w", ErrFileWrite, s.segmentIndex, err)
	}

	err = s.ledger.Record(s.segmentIndex, s.segmentDuration)
	if err != nil {
		return err
	}

	s.bitrate.Update(size, s.segmentDuration)
	s.lastBytes = size

	s.log.Debug("segment closed",
		slog.Uint64("segment", s.segmentIndex),
		slog.Float64("duration", s.segmentDuration),
		slog.Int64("size", size))

	s.segmentIndex++
	s.segmentDuration = 0

	return nil
}

// SegmentPath returns the path of the segment file with the given index.
func (s *Segmenter) SegmentPath(index uint64) string {
	return filepath.Join(s.conf.FileBase, s.segmentName(index))
}

func (s *Segmenter) segmentName(index uint64) string {
	return s.conf.MediaBase + strconv.FormatUint(index, 10) + "." + s.extension
}

// SegmentIndex returns the index of the segment being written.
func (s *Segmenter) SegmentIndex() uint64 {
	return s.segmentIndex
}

// SegmentSequence returns the index of the oldest advertised segment.
func (s *Segmenter) SegmentSequence() uint64 {
	return s.segmentSequence
}

// FileSequence returns the index of the oldest segment file still on disk.
func (s *Segmenter) FileSequence() uint64 {
	return s.fileSequence
}

// SegmentDuration returns the recorded duration of a closed segment.
func (s *Segmenter) SegmentDuration(index uint64) float64 {
	return s.ledger.Get(index)
}

// Extension returns the segment file extension.
func (s *Segmenter) Extension() string {
	return s.extension
}

// Format returns the segment container format.
func (s *Segmenter) Format() OutputFormat {
	return s.format
}

// EndOfStream reports whether Close was called.
func (s *Segmenter) EndOfStream() bool {
	return s.endOfStream
}

// Stats returns a snapshot of the engine state.
func (s *Segmenter) Stats() Stats {
	st := Stats{
		SegmentIndex:     s.segmentIndex,
		SegmentSequence:  s.segmentSequence,
		FileSequence:     s.fileSequence,
		TargetDuration:   s.conf.TargetDuration,
		MaxDuration:      s.ledger.MaxDuration(),
		CurrentDuration:  s.segmentDuration,
		LastSegmentBytes: s.lastBytes,
		Position:         s.position,
		AvgBitrate:       s.bitrate.Avg(),
		MaxBitrate:       s.bitrate.Max(),
		Extension:        s.extension,
		EndOfStream:      s.endOfStream,
	}
	if s.segmentIndex > 0 {
		st.LastSegmentDuration = s.ledger.Get(s.segmentIndex - 1)
	}
	return st
}
