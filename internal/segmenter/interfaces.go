package segmenter

import "os"

// Demuxer yields packets of a source. ReadPacket returns io.EOF once the
// source is exhausted.
type Demuxer interface {
	Streams() []StreamInfo
	ReadPacket() (*Packet, error)
}

// Muxer writes packets into segment files. A muxer handles one open segment
// file at a time; Close must be called before the next Open.
type Muxer interface {
	// TimeBase returns the output time base of the stream with the given role.
	TimeBase(role StreamRole) TimeBase
	Open(path string) error
	// WriteHeader is called once, after the first segment file is opened.
	WriteHeader() error
	WritePacket(pkt *OutputPacket) error
	Flush() error
	// Close flushes and closes the current segment file and returns its size in bytes.
	Close() (int64, error)
}

// BitstreamFilter reformats video payloads before they are muxed.
type BitstreamFilter interface {
	Filter(payload []byte, keyframe bool) ([]byte, error)
}

// Remover deletes expired segment files.
type Remover interface {
	Remove(path string) error
}

// Formats creates the muxer and the bitstream filter needed by a segmenter.
type Formats interface {
	NewMuxer(format OutputFormat, streams []StreamInfo) (Muxer, error)
	// NewFilter returns the filter for a video stream, or nil when payloads
	// can be written unchanged.
	NewFilter(stream StreamInfo) (BitstreamFilter, error)
}

// RemoverFunc adapts a function to the Remover interface.
type RemoverFunc func(path string) error

// Remove implements Remover.
func (f RemoverFunc) Remove(path string) error {
	return f(path)
}

var osRemover = RemoverFunc(os.Remove)
