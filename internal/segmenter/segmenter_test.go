package segmenter

import (
	"bytes"
	"errors"
	"testing"
)

type fakeMuxer struct {
	opened  []string
	headers int
	packets map[string][]*OutputPacket
	current string
	closed  int

	openErr  error
	closeErr error
	writeErr error
}

func newFakeMuxer() *fakeMuxer {
	return &fakeMuxer{packets: make(map[string][]*OutputPacket)}
}

func (m *fakeMuxer) TimeBase(StreamRole) TimeBase {
	return MPEGTSTimeBase
}

func (m *fakeMuxer) Open(path string) error {
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = append(m.opened, path)
	m.current = path
	return nil
}

func (m *fakeMuxer) WriteHeader() error {
	m.headers++
	return nil
}

func (m *fakeMuxer) WritePacket(pkt *OutputPacket) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.packets[m.current] = append(m.packets[m.current], pkt)
	return nil
}

func (m *fakeMuxer) Flush() error {
	return nil
}

func (m *fakeMuxer) Close() (int64, error) {
	if m.closeErr != nil {
		return 0, m.closeErr
	}
	m.closed++
	var n int64
	for _, p := range m.packets[m.current] {
		n += int64(len(p.Payload))
	}
	return n, nil
}

type upperFilter struct {
	calls int
}

func (f *upperFilter) Filter(payload []byte, _ bool) ([]byte, error) {
	f.calls++
	return bytes.ToUpper(payload), nil
}

type fakeFormats struct {
	muxer     *fakeMuxer
	filter    BitstreamFilter
	muxerErr  error
	gotFormat OutputFormat
}

func (f *fakeFormats) NewMuxer(format OutputFormat, _ []StreamInfo) (Muxer, error) {
	f.gotFormat = format
	if f.muxerErr != nil {
		return nil, f.muxerErr
	}
	return f.muxer, nil
}

func (f *fakeFormats) NewFilter(StreamInfo) (BitstreamFilter, error) {
	return f.filter, nil
}

var (
	testVideo = StreamInfo{Index: 0, Role: RoleVideo, Codec: CodecH264, TimeBase: TimeBase{1, 1000}}
	testAudio = StreamInfo{Index: 1, Role: RoleAudio, Codec: CodecAAC, TimeBase: TimeBase{1, 48000}}
)

func newTestSegmenter(t *testing.T, conf Config, streams ...StreamInfo) (*Segmenter, *fakeMuxer) {
	t.Helper()
	if len(streams) == 0 {
		streams = []StreamInfo{testVideo, testAudio}
	}
	if conf.MediaBase == "" {
		conf.MediaBase = "fileSequence"
	}
	mux := newFakeMuxer()
	s, err := New(conf, streams, &fakeFormats{muxer: mux})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, mux
}

// commitDurations closes one segment per duration without going through packets.
func commitDurations(t *testing.T, s *Segmenter, durations ...float64) {
	t.Helper()
	for _, d := range durations {
		s.segmentDuration = d
		if err := s.finishSegment(); err != nil {
			t.Fatalf("finishSegment: %v", err)
		}
		if err := s.startSegment(); err != nil {
			t.Fatalf("startSegment: %v", err)
		}
	}
}

func videoPacket(ms int64, key bool) *Packet {
	return &Packet{StreamIndex: testVideo.Index, PTS: ms, DTS: ms, Duration: 40, Keyframe: key, Payload: []byte("v")}
}

func audioPacket(samples int64) *Packet {
	return &Packet{StreamIndex: testAudio.Index, PTS: samples, DTS: samples, Duration: 1024, Payload: []byte("a")}
}

func TestNew_no_suitable_stream(t *testing.T) {
	streams := []StreamInfo{
		{Index: 0, Role: RoleOther, Codec: CodecUnknown},
		{Index: 1, Role: RoleVideo, Codec: CodecUnknown},
	}
	_, err := New(Config{}, streams, &fakeFormats{muxer: newFakeMuxer()})
	if !errors.Is(err, ErrNoSuitableStream) {
		t.Errorf("expected ErrNoSuitableStream, got %v", err)
	}
}

func TestNew_filter_excludes_streams(t *testing.T) {
	_, err := New(Config{Filter: FilterAudio}, []StreamInfo{testVideo}, &fakeFormats{muxer: newFakeMuxer()})
	if !errors.Is(err, ErrNoSuitableStream) {
		t.Errorf("expected ErrNoSuitableStream for audio-only filter on video source, got %v", err)
	}
}

func TestNew_unsupported_output_format(t *testing.T) {
	_, err := New(Config{}, []StreamInfo{testVideo}, &fakeFormats{muxerErr: errors.New("nope")})
	if !errors.Is(err, ErrUnsupportedOutputFormat) {
		t.Errorf("expected ErrUnsupportedOutputFormat, got %v", err)
	}
}

func TestNew_output_format(t *testing.T) {
	cases := []struct {
		name    string
		filter  MediaFilter
		streams []StreamInfo
		format  OutputFormat
		ext     string
	}{
		{"video and audio", FilterAll, []StreamInfo{testVideo, testAudio}, FormatMPEGTS, "ts"},
		{"audio only aac", FilterAudio, []StreamInfo{testVideo, testAudio}, FormatADTS, "aac"},
		{"audio only mp3", FilterAll, []StreamInfo{{Index: 3, Role: RoleAudio, Codec: CodecMP3, TimeBase: TimeBase{1, 44100}}}, FormatMP3, "mp3"},
		{"video only", FilterVideo, []StreamInfo{testVideo, testAudio}, FormatMPEGTS, "ts"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ff := &fakeFormats{muxer: newFakeMuxer()}
			s, err := New(Config{Filter: c.filter}, c.streams, ff)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if ff.gotFormat != c.format {
				t.Errorf("expected format %v, got %v", c.format, ff.gotFormat)
			}
			if s.Extension() != c.ext {
				t.Errorf("expected extension %s, got %s", c.ext, s.Extension())
			}
		})
	}
}

func TestSegmenter_header_written_once(t *testing.T) {
	s, mux := newTestSegmenter(t, Config{TargetDuration: 1})
	for i := int64(0); i < 5; i++ {
		if err := s.WritePacket(videoPacket(i*1000, true)); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}
	if mux.headers != 1 {
		t.Errorf("expected header written once, got %d", mux.headers)
	}
	if len(mux.opened) != 5 {
		t.Errorf("expected 5 opened segments, got %d", len(mux.opened))
	}
}

func TestSegmenter_boundaries_only_on_keyframes(t *testing.T) {
	s, mux := newTestSegmenter(t, Config{TargetDuration: 2})

	// keyframes every 3 seconds, frames every 500ms.
	for ms := int64(0); ms < 9000; ms += 500 {
		if err := s.WritePacket(videoPacket(ms, ms%3000 == 0)); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}

	if s.SegmentIndex() != 2 {
		t.Fatalf("expected 2 closed segments, got %d", s.SegmentIndex())
	}
	for i := uint64(0); i < 2; i++ {
		if d := s.SegmentDuration(i); d != 3 {
			t.Errorf("segment %d: expected duration 3, got %v", i, d)
		}
	}

	// every segment starts with a keyframe
	for _, path := range mux.opened {
		pkts := mux.packets[path]
		if len(pkts) == 0 || !pkts[0].Keyframe {
			t.Errorf("segment %s does not start with a keyframe", path)
		}
	}
}

func TestSegmenter_audio_never_splits_when_video_present(t *testing.T) {
	s, _ := newTestSegmenter(t, Config{TargetDuration: 1})

	if err := s.WritePacket(videoPacket(0, true)); err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 200; i++ {
		if err := s.WritePacket(audioPacket(i * 1024)); err != nil {
			t.Fatal(err)
		}
	}
	if s.SegmentIndex() != 0 {
		t.Errorf("audio packets must not create boundaries when video is present, got %d", s.SegmentIndex())
	}
}

func TestSegmenter_audio_only_every_packet_is_candidate(t *testing.T) {
	s, _ := newTestSegmenter(t, Config{TargetDuration: 1}, testAudio)

	// 48 kHz, 1024 samples per packet: ~21.3ms each, 200 packets ~ 4.27s
	for i := int64(0); i < 200; i++ {
		if err := s.WritePacket(audioPacket(i * 1024)); err != nil {
			t.Fatal(err)
		}
	}
	if s.SegmentIndex() != 4 {
		t.Errorf("expected 4 segments, got %d", s.SegmentIndex())
	}
	for i := uint64(0); i < s.SegmentIndex(); i++ {
		if d := s.SegmentDuration(i); d < 1 {
			t.Errorf("segment %d shorter than target: %v", i, d)
		}
	}
}

func TestSegmenter_segment_index_increments_by_one(t *testing.T) {
	s, _ := newTestSegmenter(t, Config{TargetDuration: 1})

	prev := s.SegmentIndex()
	for ms := int64(0); ms < 20000; ms += 250 {
		if err := s.WritePacket(videoPacket(ms, ms%1000 == 0)); err != nil {
			t.Fatal(err)
		}
		cur := s.SegmentIndex()
		if cur != prev && cur != prev+1 {
			t.Fatalf("segment index jumped from %d to %d", prev, cur)
		}
		prev = cur
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if s.SegmentIndex() != prev+1 {
		t.Errorf("Close must commit exactly one segment, got %d after %d", s.SegmentIndex(), prev)
	}
}

func TestSegmenter_rescale_and_missing_timestamps(t *testing.T) {
	s, mux := newTestSegmenter(t, Config{TargetDuration: 10})

	if err := s.WritePacket(videoPacket(1000, true)); err != nil {
		t.Fatal(err)
	}
	if err := s.WritePacket(&Packet{StreamIndex: 0, PTS: NoTimestamp, DTS: NoTimestamp, Payload: []byte("x")}); err != nil {
		t.Fatal(err)
	}

	pkts := mux.packets[mux.current]
	if len(pkts) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(pkts))
	}
	if pkts[0].PTS != 90000 || pkts[0].DTS != 90000 {
		t.Errorf("expected 1000ms rescaled to 90000, got pts=%d dts=%d", pkts[0].PTS, pkts[0].DTS)
	}
	if pkts[1].PTS != NoTimestamp {
		t.Errorf("expected missing PTS to stay unknown, got %d", pkts[1].PTS)
	}
	if pkts[1].DTS != 90000 {
		t.Errorf("expected missing DTS replaced by last DTS 90000, got %d", pkts[1].DTS)
	}
}

func TestSegmenter_filter_applies_to_video_only(t *testing.T) {
	f := &upperFilter{}
	mux := newFakeMuxer()
	s, err := New(Config{MediaBase: "s"}, []StreamInfo{testVideo, testAudio}, &fakeFormats{muxer: mux, filter: f})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WritePacket(videoPacket(0, true)); err != nil {
		t.Fatal(err)
	}
	if err := s.WritePacket(audioPacket(0)); err != nil {
		t.Fatal(err)
	}

	pkts := mux.packets[mux.current]
	if string(pkts[0].Payload) != "V" {
		t.Errorf("expected filtered video payload, got %q", pkts[0].Payload)
	}
	if string(pkts[1].Payload) != "a" {
		t.Errorf("expected unfiltered audio payload, got %q", pkts[1].Payload)
	}
	if f.calls != 1 {
		t.Errorf("expected filter called once, got %d", f.calls)
	}
}

func TestSegmenter_other_streams_dropped(t *testing.T) {
	sub := StreamInfo{Index: 5, Role: RoleOther, Codec: CodecUnknown}
	s, mux := newTestSegmenter(t, Config{}, testVideo, sub)

	if err := s.WritePacket(&Packet{StreamIndex: 5, PTS: 0, DTS: 0, Payload: []byte("sub")}); err != nil {
		t.Fatal(err)
	}
	if len(mux.packets[mux.current]) != 0 {
		t.Error("subtitle packet should have been dropped")
	}
}

func TestSegmenter_close_commits_short_trailing_segment(t *testing.T) {
	s, _ := newTestSegmenter(t, Config{TargetDuration: 10})

	for ms := int64(0); ms < 12000; ms += 1000 {
		if err := s.WritePacket(videoPacket(ms, ms%2000 == 0)); err != nil {
			t.Fatal(err)
		}
	}
	if s.SegmentIndex() != 1 {
		t.Fatalf("expected one full segment, got %d", s.SegmentIndex())
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !s.EndOfStream() {
		t.Error("expected end of stream")
	}
	if s.SegmentIndex() != 2 {
		t.Fatalf("expected trailing segment committed, got %d", s.SegmentIndex())
	}
	// last packet at 11s lasts 40ms, boundary at 10s
	if d := s.SegmentDuration(1); d < 1.03 || d > 1.05 {
		t.Errorf("expected trailing duration ~1.04, got %v", d)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if s.SegmentIndex() != 2 {
		t.Errorf("second Close must not commit, got %d", s.SegmentIndex())
	}
}

func TestSegmenter_close_failure_leaves_ledger_untouched(t *testing.T) {
	s, mux := newTestSegmenter(t, Config{TargetDuration: 1})
	mux.closeErr = errors.New("disk full")

	if err := s.WritePacket(videoPacket(0, true)); err != nil {
		t.Fatal(err)
	}
	err := s.WritePacket(videoPacket(2000, true))
	if !errors.Is(err, ErrFileWrite) {
		t.Fatalf("expected ErrFileWrite, got %v", err)
	}
	if s.SegmentIndex() != 0 || s.ledger.Len() != 0 {
		t.Errorf("failed commit must not be recorded: index=%d ledger=%d", s.SegmentIndex(), s.ledger.Len())
	}
}

func TestSegmenter_open_failure(t *testing.T) {
	mux := newFakeMuxer()
	mux.openErr = errors.New("permission denied")
	s, err := New(Config{}, []StreamInfo{testVideo}, &fakeFormats{muxer: mux})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Open(); !errors.Is(err, ErrFileWrite) {
		t.Errorf("expected ErrFileWrite, got %v", err)
	}
}

func TestSegmenter_bitrate(t *testing.T) {
	s, _ := newTestSegmenter(t, Config{TargetDuration: 1})

	for ms := int64(0); ms <= 2000; ms += 1000 {
		if err := s.WritePacket(videoPacket(ms, true)); err != nil {
			t.Fatal(err)
		}
	}
	st := s.Stats()
	// each closed segment holds a single 1-byte payload over 1 second
	if st.MaxBitrate != 8 || st.AvgBitrate != 8 {
		t.Errorf("expected 8 bit/s, got avg=%v max=%v", st.AvgBitrate, st.MaxBitrate)
	}
	if st.LastSegmentBytes != 1 {
		t.Errorf("expected last segment size 1, got %d", st.LastSegmentBytes)
	}
	if st.Position != 2 {
		t.Errorf("expected position 2s, got %v", st.Position)
	}
}

func TestSegmenter_segment_path(t *testing.T) {
	s, mux := newTestSegmenter(t, Config{FileBase: "/tmp/out", MediaBase: "seg-"})
	if got := s.SegmentPath(7); got != "/tmp/out/seg-7.ts" {
		t.Errorf("unexpected path %s", got)
	}
	if mux.opened[0] != "/tmp/out/seg-0.ts" {
		t.Errorf("unexpected first segment %s", mux.opened[0])
	}
}

func TestRescale(t *testing.T) {
	cases := []struct {
		v        int64
		from, to TimeBase
		want     int64
	}{
		{1000, TimeBase{1, 1000}, MPEGTSTimeBase, 90000},
		{1, TimeBase{1, 48000}, MPEGTSTimeBase, 2},    // 1.875 rounds up
		{1, TimeBase{1, 180000}, MPEGTSTimeBase, 1},   // 0.5 rounds away from zero
		{-1, TimeBase{1, 180000}, MPEGTSTimeBase, -1}, // -0.5 rounds away from zero
		{NoTimestamp, TimeBase{1, 1000}, MPEGTSTimeBase, NoTimestamp},
		{42, MPEGTSTimeBase, MPEGTSTimeBase, 42},
	}
	for _, c := range cases {
		if got := Rescale(c.v, c.from, c.to); got != c.want {
			t.Errorf("Rescale(%d, %v, %v) = %d, want %d", c.v, c.from, c.to, got, c.want)
		}
	}
}

func TestParsePlaylistType(t *testing.T) {
	for in, want := range map[string]PlaylistType{"vod": VOD, "LIVE": Live, "event": Event, "": VOD} {
		got, err := ParsePlaylistType(in)
		if err != nil || got != want {
			t.Errorf("ParsePlaylistType(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePlaylistType("dvr"); err == nil {
		t.Error("expected error for unknown type")
	}
}
