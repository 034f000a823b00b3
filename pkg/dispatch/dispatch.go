package dispatch

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work routed to a lane by its Key.
type Task struct {
	ID       string
	Key      string
	Enqueued time.Time
}

// Handler processes a task.
type Handler func(context.Context, Task) error

// Config configures dispatcher behaviour.
type Config struct {
	Lanes      int
	LaneBuffer int
	Logger     *zap.Logger
}

// Dispatcher routes tasks onto a fixed set of lanes, each drained by a single
// goroutine. Tasks sharing a key always land on the same lane, so they are
// processed serially in submission order; tasks with different keys run in
// parallel up to the lane count.
type Dispatcher struct {
	name    string
	handler Handler

	laneCount  int
	laneBuffer int
	logger     *zap.Logger

	lanes   []chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// New builds a dispatcher with the provided handler.
func New(name string, handler Handler, cfg Config) *Dispatcher {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 1
	}
	if cfg.LaneBuffer <= 0 {
		cfg.LaneBuffer = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	d := &Dispatcher{
		name:       name,
		handler:    handler,
		laneCount:  cfg.Lanes,
		laneBuffer: cfg.LaneBuffer,
		logger:     cfg.Logger,
		lanes:      make([]chan Task, cfg.Lanes),
	}
	for i := range d.lanes {
		d.lanes[i] = make(chan Task, cfg.LaneBuffer)
	}
	return d
}

// Start begins lane consumption. Safe to call once.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	for i := range d.lanes {
		d.wg.Add(1)
		go d.drain(i)
	}
	d.started = true
	d.logger.Sugar().Infow("dispatcher started", "dispatcher", d.name, "lanes", d.laneCount)
}

// Stop cancels lanes and waits for them to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
	d.logger.Sugar().Infow("dispatcher stopped", "dispatcher", d.name)
}

// Submit routes a task to the lane owning its key.
func (d *Dispatcher) Submit(task Task) error {
	d.mu.Lock()
	ctx := d.ctx
	started := d.started
	d.mu.Unlock()

	if !started {
		return fmt.Errorf("dispatcher %s not started", d.name)
	}
	if task.Enqueued.IsZero() {
		task.Enqueued = time.Now().UTC()
	}

	lane := d.lanes[laneFor(task.Key, d.laneCount)]
	select {
	case <-ctx.Done():
		return fmt.Errorf("dispatcher %s stopped: %w", d.name, ctx.Err())
	case lane <- task:
		return nil
	}
}

// Depth reports the number of buffered tasks across all lanes.
func (d *Dispatcher) Depth() int {
	total := 0
	for _, lane := range d.lanes {
		total += len(lane)
	}
	return total
}

func (d *Dispatcher) drain(laneID int) {
	defer d.wg.Done()
	lane := d.lanes[laneID]
	for {
		select {
		case <-d.ctx.Done():
			return
		case task := <-lane:
			if err := d.handler(d.ctx, task); err != nil {
				d.logger.Sugar().Errorw("task handler failed",
					"dispatcher", d.name, "lane", laneID, "task_id", task.ID, "key", task.Key, "error", err)
			}
		}
	}
}

func laneFor(key string, lanes int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(lanes))
}
