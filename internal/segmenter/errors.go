package segmenter

import "errors"

var (
	// ErrAllocation is returned when the duration ledger cannot grow.
	ErrAllocation = errors.New("can't allocate memory")

	// ErrNoSuitableStream is returned when the source has neither a usable
	// audio stream nor a usable video stream.
	ErrNoSuitableStream = errors.New("no suitable streams found")

	// ErrUnsupportedOutputFormat is returned when no muxer can be created for
	// the selected streams.
	ErrUnsupportedOutputFormat = errors.New("unsupported output format")

	// ErrFileWrite is returned when a segment or playlist file cannot be
	// opened, written or closed.
	ErrFileWrite = errors.New("can't open file for writing")
)
