package segmenter

// Bitrate accumulates bitrate statistics of closed segments.
type Bitrate struct {
	count uint64
	avg   float64
	max   float64
}

// Update accounts a segment of size bytes lasting duration seconds.
func (b *Bitrate) Update(size int64, duration float64) {
	if duration <= 0 {
		return
	}

	bits := float64(size) * 8 / duration
	b.max = max(b.max, bits)
	b.avg = (b.avg*float64(b.count) + bits) / float64(b.count+1)
	b.count++
}

// Avg returns the average bitrate in bits per second.
func (b *Bitrate) Avg() float64 {
	return b.avg
}

// Max returns the highest segment bitrate in bits per second.
func (b *Bitrate) Max() float64 {
	return b.max
}

// Count returns the number of accounted segments.
func (b *Bitrate) Count() uint64 {
	return b.count
}
