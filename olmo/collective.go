package olmo

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Collective is the cross-process communication collaborator. Mesh
// construction and the sharding/wrapping steps are collective: every rank in
// the relevant group must make the same calls with consistent configuration.
// The transport behind this interface is out of scope; this module ships a
// single-process implementation and an in-process multi-rank world for
// single-node runs and tests.
type Collective interface {
	// Rank returns this process's rank in [0, Size).
	Rank() int

	// Size returns the number of participating processes.
	Size() int

	// Barrier blocks until every rank has entered it.
	Barrier(ctx context.Context) error

	// AllGatherInt gathers one value from every rank, ordered by rank.
	AllGatherInt(ctx context.Context, value int) ([]int, error)
}

// SingleProcess returns a Collective for a world of one.
func SingleProcess() Collective {
	return &singleProcess{}
}

type singleProcess struct{}

func (*singleProcess) Rank() int { return 0 }
func (*singleProcess) Size() int { return 1 }

func (*singleProcess) Barrier(ctx context.Context) error { return ctx.Err() }

func (*singleProcess) AllGatherInt(ctx context.Context, value int) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []int{value}, nil
}

// localWorld coordinates ranks running as goroutines in one process.
type localWorld struct {
	rank  int
	state *localState
}

type localState struct {
	size int

	mu     sync.Mutex
	cond   *sync.Cond
	gen    int
	count  int
	values []int
}

func newLocalState(size int) *localState {
	s := &localState{size: size, values: make([]int, size)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (w *localWorld) Rank() int { return w.rank }
func (w *localWorld) Size() int { return w.state.size }

func (w *localWorld) Barrier(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := w.state
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.gen
	s.count++
	if s.count == s.size {
		s.count = 0
		s.gen++
		s.cond.Broadcast()
		return nil
	}
	for s.gen == gen {
		s.cond.Wait()
	}
	return nil
}

func (w *localWorld) AllGatherInt(ctx context.Context, value int) ([]int, error) {
	s := w.state
	s.mu.Lock()
	s.values[w.rank] = value
	s.mu.Unlock()

	// First barrier publishes every rank's value, second keeps the buffer
	// stable until every rank has copied it out.
	if err := w.Barrier(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := append([]int(nil), s.values...)
	s.mu.Unlock()
	if err := w.Barrier(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// LaunchLocal runs fn once per rank in an in-process world of the given
// size, one goroutine per rank, and waits for all of them. The first error
// aborts the world. This is the single-node analog of launching one process
// per device.
func LaunchLocal(ctx context.Context, worldSize int, fn func(ctx context.Context, c Collective) error) error {
	if worldSize < 1 {
		return fmt.Errorf("world size must be at least 1, got %d", worldSize)
	}
	state := newLocalState(worldSize)
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < worldSize; rank++ {
		w := &localWorld{rank: rank, state: state}
		g.Go(func() error {
			return fn(ctx, w)
		})
	}
	return g.Wait()
}
