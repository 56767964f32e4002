package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/flowerbed/internal/flower"
	"github.com/nidhogg/flowerbed/internal/memory"
	"go.uber.org/zap"
)

// Processor executes jobs on a bounded pool of goroutines.
type Processor struct {
	keeper      Keeper
	consolidate memory.ConsolidateOptions
	mu          sync.RWMutex
	running     map[string]*Job
	pool        chan struct{} // semaphore-based pool
	logger      *zap.Logger
}

// NewProcessor creates a processor running at most poolSize jobs at once.
func NewProcessor(keeper Keeper, consolidate memory.ConsolidateOptions, poolSize int, logger *zap.Logger) *Processor {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &Processor{
		keeper:      keeper,
		consolidate: consolidate,
		running:     make(map[string]*Job),
		pool:        make(chan struct{}, poolSize),
		logger:      logger,
	}
}

// Run consumes deliveries until ctx is cancelled or the channel closes,
// then waits for in-flight jobs. Jobs are acked whether they succeed or
// fail; retry policy belongs to whoever enqueues them.
func (p *Processor) Run(ctx context.Context, deliveries <-chan *Delivery) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			select {
			case p.pool <- struct{}{}: // acquire slot
			case <-ctx.Done():
				return nil
			}
			wg.Add(1)
			go func(d *Delivery) {
				defer wg.Done()
				defer func() { <-p.pool }() // release slot

				p.Process(ctx, d.Job)
				if err := d.Ack(context.WithoutCancel(ctx)); err != nil {
					p.logger.Warn("ack failed", zap.String("job", d.Job.ID), zap.Error(err))
				}
			}(d)
		}
	}
}

// Process runs a single job.
func (p *Processor) Process(ctx context.Context, job *Job) *Result {
	start := time.Now()

	p.mu.Lock()
	p.running[job.ID] = job
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, job.ID)
		p.mu.Unlock()
	}()

	p.logger.Info("processing job",
		zap.String("job", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("flower", job.FlowerID))

	res := &Result{JobID: job.ID, Kind: job.Kind, FlowerID: job.FlowerID}
	var err error
	switch job.Kind {
	case KindConsolidation:
		err = p.consolidateMemory(ctx, job, res)
	case KindEvolution:
		err = p.evolve(ctx, job, res)
	case KindArchival:
		err = p.archive(ctx, job, res)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	res.Duration = time.Since(start)

	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		p.logger.Error("job failed",
			zap.String("job", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.String("flower", job.FlowerID),
			zap.Error(err))
		return res
	}
	res.Status = StatusDone
	p.logger.Info("job completed",
		zap.String("job", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.Duration("duration", res.Duration))
	return res
}

func (p *Processor) consolidateMemory(ctx context.Context, job *Job, res *Result) error {
	mem, err := p.keeper.RewriteFlowerMemory(ctx, job.FlowerID, func(m flower.Memory) flower.Memory {
		return memory.Consolidate(m, p.consolidate)
	})
	if err != nil {
		return err
	}
	res.MemorySize = len(mem.LongTerm)
	return nil
}

func (p *Processor) evolve(ctx context.Context, job *Job, res *Result) error {
	trigger := job.Trigger
	if trigger == "" {
		trigger = string(KindEvolution)
	}
	f, err := p.keeper.EvolveFlower(ctx, job.FlowerID, trigger)
	if err != nil {
		return err
	}
	if h := f.Metadata.EvolutionHistory; len(h) > 0 {
		changes := h[len(h)-1].Changes
		res.Changes = &changes
	}
	return nil
}

func (p *Processor) archive(ctx context.Context, job *Job, res *Result) error {
	f, err := p.keeper.Archive(ctx, job.FlowerID, job.Reason)
	if err != nil {
		return err
	}
	res.ArchivedAt = f.Metadata.ArchivedAt
	return nil
}

// Running returns currently executing jobs.
func (p *Processor) Running() []*Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	jobs := make([]*Job, 0, len(p.running))
	for _, j := range p.running {
		jobs = append(jobs, j)
	}
	return jobs
}
