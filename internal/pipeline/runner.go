// Package pipeline contains the control loop that feeds a segmenter from a
// demuxer and keeps its playlist up to date.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"code.cloudfoundry.org/bytefmt"
	"github.com/google/uuid"

	"hls-segmenter/internal/platform/metrics"
	"hls-segmenter/internal/segmenter"
	"hls-segmenter/internal/status"
)

// Config contains the runner parameters.
type Config struct {
	// source name, reported in status snapshots.
	Input string
	// prefix of segment URIs in the playlist.
	BaseURL string
	// playlist file name, relative to the segmenter file base.
	IndexFile string
	Type      segmenter.PlaylistType
	// number of segments kept in a live playlist. Zero keeps them all.
	WindowEntries uint64
	// delete segment files that left the live window.
	DeleteFiles bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used by the runner.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

// WithMetrics enables metric recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithStatus publishes job snapshots into repo.
func WithStatus(repo status.Repository) Option {
	return func(r *Runner) {
		r.status = repo
	}
}

// WithJobID sets the job identifier. By default a random UUID is used.
func WithJobID(id status.JobID) Option {
	return func(r *Runner) {
		r.id = id
	}
}

// Runner pulls packets from a demuxer into a segmenter until the end of the stream.
type Runner struct {
	conf    Config
	src     segmenter.Demuxer
	seg     *segmenter.Segmenter
	log     *slog.Logger
	metrics *metrics.Metrics
	status  status.Repository
	id      status.JobID

	prevIndex uint64
}

// NewRunner allocates a Runner.
func NewRunner(conf Config, src segmenter.Demuxer, seg *segmenter.Segmenter, opts ...Option) *Runner {
	r := &Runner{
		conf: conf,
		src:  src,
		seg:  seg,
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, o := range opts {
		o(r)
	}

	if r.id == "" {
		r.id = status.JobID(uuid.NewString())
	}

	r.log = r.log.With(slog.String("job_id", string(r.id)))

	return r
}

// ID returns the job identifier.
func (r *Runner) ID() status.JobID {
	return r.id
}

// Run segments the whole stream. Cancelling ctx ends the stream early: the
// last segment and the final playlist are still written.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("segmenting started",
		slog.String("input", r.conf.Input),
		slog.String("type", r.conf.Type.String()),
		slog.String("format", r.seg.Format().String()),
		slog.Float64("target_duration", r.seg.Stats().TargetDuration))

	err := r.seg.Open()
	if err != nil {
		return err
	}

	r.prevIndex = r.seg.SegmentIndex()
	r.publish()

	for {
		if ctx.Err() != nil {
			r.log.Info("segmenting interrupted, closing the last segment")
			break
		}

		pkt, err := r.src.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// reads fail when the input is closed on cancellation.
			if ctx.Err() != nil {
				r.log.Info("segmenting interrupted, closing the last segment")
				break
			}
			return fmt.Errorf("unable to read packet: %w", err)
		}

		err = r.seg.WritePacket(pkt)
		if err != nil {
			return err
		}

		if r.seg.SegmentIndex() > r.prevIndex {
			err = r.onSegments(false)
			if err != nil {
				return err
			}
		}
	}

	err = r.seg.Close()
	if err != nil {
		return err
	}

	err = r.onSegments(true)
	if err != nil {
		return err
	}

	if r.status != nil {
		err = r.status.End(r.id)
		if err != nil {
			return err
		}
	}

	st := r.seg.Stats()
	r.log.Info("segmenting finished",
		slog.Uint64("segments", st.SegmentIndex),
		slog.Float64("max_duration", st.MaxDuration),
		slog.Float64("avg_bitrate", st.AvgBitrate),
		slog.Float64("max_bitrate", st.MaxBitrate))

	return nil
}

// onSegments handles the segments closed since the last call: it moves the
// live window and writes the playlist.
func (r *Runner) onSegments(final bool) error {
	index := r.seg.SegmentIndex()

	for i := r.prevIndex; i < index; i++ {
		d := r.seg.SegmentDuration(i)

		if r.metrics != nil {
			r.metrics.ObserveSegment(d)
		}

		r.log.Debug("segment written",
			slog.Uint64("segment", i),
			slog.Float64("duration", d))
	}

	if index > r.prevIndex {
		st := r.seg.Stats()
		r.log.Info("segment closed",
			slog.Uint64("segment", index-1),
			slog.Float64("duration", st.LastSegmentDuration),
			slog.String("size", bytefmt.ByteSize(uint64(max(st.LastSegmentBytes, 0)))))
	}

	r.prevIndex = index

	if r.conf.Type == segmenter.Live && r.conf.WindowEntries != 0 && index > r.conf.WindowEntries {
		before := r.seg.FileSequence()
		deleted := r.seg.Advance(index-r.conf.WindowEntries, r.conf.DeleteFiles)
		attempted := int(r.seg.FileSequence() - before)

		if r.metrics != nil {
			r.metrics.AddDeletions(deleted, attempted-deleted)
		}

		if attempted != 0 {
			r.log.Debug("expired segments deleted",
				slog.Int("deleted", deleted),
				slog.Int("failed", attempted-deleted))
		}
	}

	written, err := r.seg.WritePlaylist(r.conf.IndexFile, r.conf.Type, r.conf.BaseURL, final)
	if err != nil {
		return err
	}

	if written {
		if r.metrics != nil {
			r.metrics.IncPlaylistWrites()
		}
		r.log.Debug("playlist written",
			slog.String("playlist", r.conf.IndexFile),
			slog.Bool("final", final))
	}

	if r.metrics != nil {
		st := r.seg.Stats()
		r.metrics.SetBitrate(st.AvgBitrate, st.MaxBitrate)
		r.metrics.SetWindow(st.SegmentSequence, st.SegmentIndex)
	}

	r.publish()

	return nil
}

func (r *Runner) publish() {
	if r.status == nil {
		return
	}

	err := r.status.Publish(status.Snapshot{
		ID:       r.id,
		Input:    r.conf.Input,
		Playlist: r.conf.IndexFile,
		Type:     r.conf.Type.String(),
		Stats:    r.seg.Stats(),
		Segments: r.seg.Entries(r.conf.Type, r.conf.BaseURL),
	})
	if err != nil {
		r.log.Warn("unable to publish status", slog.String("error", err.Error()))
	}
}
