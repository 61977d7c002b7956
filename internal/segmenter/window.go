package segmenter

import "log/slog"

// minBufferedTargets is the minimum number of target durations a live
// playlist must keep advertised.
const minBufferedTargets = 3

// Advance moves the oldest advertised segment forward to target.
// The window never shrinks below three target durations of buffered media,
// unless fewer segments are available. When del is true, segment files that
// fell out of the window are deleted. It returns the number of deleted files.
func (s *Segmenter) Advance(target uint64, del bool) int {
	if target <= s.segmentSequence || target >= s.segmentIndex {
		return 0
	}

	minBuffered := minBufferedTargets * s.conf.TargetDuration
	buffered := s.ledger.Sum(target, s.segmentIndex)

	for buffered < minBuffered && target > s.segmentSequence {
		target--
		buffered += s.ledger.Get(target)
	}

	if target == s.segmentSequence {
		return 0
	}

	s.segmentSequence = target

	// event playlists keep listing every segment, so their durations are retained.
	if s.conf.Type != Event {
		s.ledger.Rebase(target)
	}

	s.log.Debug("window advanced",
		slog.Uint64("sequence", s.segmentSequence),
		slog.Float64("buffered", buffered))

	if !del {
		return 0
	}

	return s.deleteExpired()
}

func (s *Segmenter) deleteExpired() int {
	deleted := 0

	for i := s.fileSequence; i < s.segmentSequence; i++ {
		path := s.SegmentPath(i)

		err := s.remover.Remove(path)
		if err != nil {
			s.log.Warn("unable to delete expired segment",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}

		deleted++
	}

	s.fileSequence = s.segmentSequence
	return deleted
}
