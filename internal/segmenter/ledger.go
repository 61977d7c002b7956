package segmenter

import "fmt"

const (
	// ledgerGrowth is the number of entries the ledger grows by.
	ledgerGrowth = 128

	// ledgerMaxEntries bounds the number of segments tracked at once.
	ledgerMaxEntries = 1 << 22
)

// Ledger stores segment durations by segment index.
// Durations are kept in a slice addressed by index - base, where base is the
// oldest segment still tracked.
type Ledger struct {
	base        uint64
	next        uint64
	durations   []float64
	maxDuration float64
}

// NewLedger allocates a Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		durations: make([]float64, ledgerGrowth),
	}
}

// Record stores the duration of the segment with the given index.
func (l *Ledger) Record(index uint64, duration float64) error {
	if index < l.base {
		return fmt.Errorf("%w: segment %d is below ledger base %d", ErrAllocation, index, l.base)
	}

	offset := index - l.base
	for offset >= uint64(len(l.durations)) {
		if len(l.durations)+ledgerGrowth > ledgerMaxEntries {
			return fmt.Errorf("%w: ledger is limited to %d entries", ErrAllocation, ledgerMaxEntries)
		}
		l.durations = append(l.durations, make([]float64, ledgerGrowth)...)
	}

	l.durations[offset] = duration
	if index >= l.next {
		l.next = index + 1
	}
	l.maxDuration = max(l.maxDuration, duration)

	return nil
}

// Get returns the duration recorded for the given index, or 0 when the index is not tracked.
func (l *Ledger) Get(index uint64) float64 {
	if index < l.base || index >= l.next {
		return 0
	}
	return l.durations[index-l.base]
}

// Rebase makes newBase the oldest tracked index, dropping older durations.
// The maximum duration is recomputed over the retained range.
func (l *Ledger) Rebase(newBase uint64) {
	if newBase <= l.base {
		return
	}
	if newBase > l.next {
		newBase = l.next
	}

	shift := newBase - l.base
	n := copy(l.durations, l.durations[shift:l.next-l.base])
	clear(l.durations[n:])
	l.base = newBase

	l.maxDuration = 0
	for _, d := range l.durations[:n] {
		l.maxDuration = max(l.maxDuration, d)
	}
}

// Base returns the oldest tracked index.
func (l *Ledger) Base() uint64 {
	return l.base
}

// Len returns the number of tracked indices.
func (l *Ledger) Len() int {
	return int(l.next - l.base)
}

// MaxDuration returns the longest tracked duration.
func (l *Ledger) MaxDuration() float64 {
	return l.maxDuration
}

// Sum returns the total duration of the segments in [from, to).
func (l *Ledger) Sum(from, to uint64) float64 {
	var sum float64
	for i := from; i < to; i++ {
		sum += l.Get(i)
	}
	return sum
}
