/*
NAME
  pool.go

DESCRIPTION
  pool.go implements the per-size bundle free-list and the process-wide
  pool handler keyed by byte size, per SPEC_FULL.md §4.2.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package bundle

import (
	"fmt"
	"sync"
)

// Pool is a free-list of bundles, all of the same frame length. Get
// takes from the back of the list (or allocates fresh); Put pushes to
// the front, matching SPEC_FULL.md §4.2's free-list, so the least
// recently returned bundle is the next one handed out.
type Pool struct {
	mu     sync.Mutex
	frames int
	free   []*Bundle
}

// NewPool creates a Pool whose bundles each hold frames frames. frames
// must be a multiple of RequiredAlignment.
func NewPool(frames int) (*Pool, error) {
	if frames <= 0 || frames%RequiredAlignment != 0 {
		return nil, fmt.Errorf("bundle: frame length %d must be a positive multiple of %d", frames, RequiredAlignment)
	}
	return &Pool{frames: frames}, nil
}

// Frames returns the frame length of bundles this pool vends.
func (p *Pool) Frames() int { return p.frames }

// ByteSize returns the size in bytes of one bundle from this pool:
// Channels * frames * sizeof(float32).
func (p *Pool) ByteSize() int { return Channels * p.frames * 4 }

// Get returns a bundle from the back of the free list, or allocates a new
// one if the list is empty. The returned bundle's home pool is p.
func (p *Pool) Get() *Bundle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		b.Clear()
		return b
	}
	b := newBundle(p.frames)
	b.home = p
	return b
}

// Put returns b to the front of the free list. It is a programming error
// to return a bundle to a pool other than its home pool, per
// SPEC_FULL.md §4.2's invariant; Put reports this rather than silently
// accepting it.
func (p *Pool) Put(b *Bundle) error {
	if b.home != p {
		return fmt.Errorf("bundle: returned to a pool that is not its home pool")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append([]*Bundle{b}, p.free...)
	return nil
}

// Len reports the number of bundles currently idle in the free list.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Handler is the process-wide pool registry keyed by byte size, so that
// two DSP graph reconfigurations that both want, say, 2-channel/64-frame
// bundles share the same underlying Pool (and therefore its free list)
// instead of each allocating their own.
type Handler struct {
	mu    sync.Mutex
	pools map[int]*Pool // keyed by frames (byte size is a function of frames)
}

// NewHandler creates an empty pool handler.
func NewHandler() *Handler {
	return &Handler{pools: make(map[int]*Pool)}
}

// PoolFor returns the shared pool for the given frame length, creating it
// on first request.
func (h *Handler) PoolFor(frames int) (*Pool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pools[frames]; ok {
		return p, nil
	}
	p, err := NewPool(frames)
	if err != nil {
		return nil, err
	}
	h.pools[frames] = p
	return p, nil
}
