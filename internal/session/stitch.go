package session

import (
	"context"
	"sync"
	"time"

	"github.com/MeKo-Tech/arenacal/internal/camera"
	"github.com/MeKo-Tech/arenacal/internal/compose"
	"github.com/google/uuid"
)

// StitchHandle is the future of one background stitch run.
type StitchHandle struct {
	id     string
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	pano  *compose.Panorama
	stats camera.RefineStats
	err   error
}

func newStitchHandle(gen uint64, cancel context.CancelFunc) *StitchHandle {
	return &StitchHandle{
		id:     uuid.NewString(),
		gen:    gen,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID identifies the run.
func (h *StitchHandle) ID() string { return h.id }

// Done is closed when the run has finished.
func (h *StitchHandle) Done() <-chan struct{} { return h.done }

// Cancel requests cooperative cancellation of the run.
func (h *StitchHandle) Cancel() { h.cancel() }

// Wait blocks until the run finishes or ctx is done.
func (h *StitchHandle) Wait(ctx context.Context) (*compose.Panorama, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pano, h.err
}

// Stats returns the bundle adjustment statistics of a finished run.
func (h *StitchHandle) Stats() camera.RefineStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *StitchHandle) running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *StitchHandle) finish(p *compose.Panorama, stats camera.RefineStats, err error) {
	h.mu.Lock()
	h.pano, h.stats, h.err = p, stats, err
	h.mu.Unlock()
	close(h.done)
}

// cancelAndWait cancels the run and waits up to grace for it to return.
func (h *StitchHandle) cancelAndWait(grace time.Duration) error {
	h.cancel()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
		return ErrCancelTimeout
	}
}
