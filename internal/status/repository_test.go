package status

import (
	"errors"
	"sync"
	"testing"
	"time"

	"hls-segmenter/internal/segmenter"
)

func TestInMemoryRepository_Publish(t *testing.T) {
	repo := NewInMemoryRepository()
	id := JobID("j1")

	t.Run("success_creates_job", func(t *testing.T) {
		err := repo.Publish(Snapshot{ID: id, Input: "in.ts", Stats: segmenter.Stats{SegmentIndex: 1}})
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		got, ok := repo.Get(id)
		if !ok {
			t.Fatal("Get: ok false")
		}
		if got.Ended {
			t.Error("ended should be false")
		}
		if got.Input != "in.ts" || got.Stats.SegmentIndex != 1 || got.StartedAt.IsZero() {
			t.Errorf("Get: got %+v", got)
		}
	})

	t.Run("publish_replaces_snapshot_keeps_start", func(t *testing.T) {
		before, _ := repo.Get(id)
		err := repo.Publish(Snapshot{ID: id, Input: "in.ts", Stats: segmenter.Stats{SegmentIndex: 2}})
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		got, _ := repo.Get(id)
		if got.Stats.SegmentIndex != 2 {
			t.Errorf("expected updated stats, got %+v", got.Stats)
		}
		if !got.StartedAt.Equal(before.StartedAt) {
			t.Error("start time must not change")
		}
	})
}

func TestInMemoryRepository_Publish_after_end(t *testing.T) {
	repo := NewInMemoryRepository()
	id := JobID("j2")

	_ = repo.Publish(Snapshot{ID: id, Stats: segmenter.Stats{SegmentIndex: 3}})
	if err := repo.End(id); err != nil {
		t.Fatalf("End: %v", err)
	}

	err := repo.Publish(Snapshot{ID: id, Stats: segmenter.Stats{SegmentIndex: 4}})
	if !errors.Is(err, ErrJobEnded) {
		t.Errorf("expected ErrJobEnded, got %v", err)
	}

	got, _ := repo.Get(id)
	if !got.Ended || got.Stats.SegmentIndex != 3 {
		t.Errorf("ended snapshot must be frozen, got %+v", got)
	}

	// idempotent
	if err := repo.End(id); err != nil {
		t.Errorf("second End: %v", err)
	}
	if err := repo.End("unknown"); err != nil {
		t.Errorf("End of unknown job: %v", err)
	}
}

func TestInMemoryRepository_List_and_ActiveJobCount(t *testing.T) {
	repo := NewInMemoryRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	_ = repo.Publish(Snapshot{ID: "b"})
	_ = repo.Publish(Snapshot{ID: "a"})
	_ = repo.Publish(Snapshot{ID: "c"})
	_ = repo.End("a")

	list := repo.List()
	if len(list) != 3 || list[0].ID != "b" || list[1].ID != "a" || list[2].ID != "c" {
		t.Errorf("expected jobs ordered by start time, got %+v", list)
	}
	if n := repo.ActiveJobCount(); n != 2 {
		t.Errorf("expected 2 active jobs, got %d", n)
	}
}

func TestInMemoryRepository_snapshots_are_copies(t *testing.T) {
	repo := NewInMemoryRepository()
	entries := []segmenter.Entry{{Index: 0, Duration: 2, URI: "a0.ts"}}
	_ = repo.Publish(Snapshot{ID: "j", Segments: entries})

	entries[0].URI = "changed"
	got, _ := repo.Get("j")
	got.Segments[0].Duration = 99

	again, _ := repo.Get("j")
	if again.Segments[0].URI != "a0.ts" || again.Segments[0].Duration != 2 {
		t.Errorf("repository state leaked: %+v", again.Segments[0])
	}
}

func TestInMemoryRepository_concurrent(t *testing.T) {
	repo := NewInMemoryRepository()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := uint64(0); n < 100; n++ {
				_ = repo.Publish(Snapshot{ID: "j", Stats: segmenter.Stats{SegmentIndex: n}})
				repo.Get("j")
				repo.List()
				repo.ActiveJobCount()
			}
		}(i)
	}
	wg.Wait()

	if _, ok := repo.Get("j"); !ok {
		t.Error("job should exist")
	}
}
