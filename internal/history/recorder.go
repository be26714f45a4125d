package history

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const saveTimeout = 5 * time.Second

// Recorder queues rounds for a Store so room actors never wait on I/O.
type Recorder struct {
	store Store
	log   *zap.Logger
	queue chan Round
}

func NewRecorder(store Store, log *zap.Logger, size int) *Recorder {
	if size <= 0 {
		size = 256
	}
	return &Recorder{
		store: store,
		log:   log.Named("history"),
		queue: make(chan Round, size),
	}
}

// Record enqueues r. A full queue drops the round and reports false.
func (r *Recorder) Record(round Round) bool {
	select {
	case r.queue <- round:
		return true
	default:
		r.log.Warn("history queue full, dropping round",
			zap.String("room", round.RoomCode), zap.Int("round", round.Round))
		return false
	}
}

// Store returns the backing store for reads.
func (r *Recorder) Store() Store { return r.store }

// Run saves queued rounds until ctx ends, then drains what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain(context.WithoutCancel(ctx))
			return nil
		case round := <-r.queue:
			r.save(ctx, round)
		}
	}
}

func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case round := <-r.queue:
			r.save(ctx, round)
		default:
			return
		}
	}
}

func (r *Recorder) save(ctx context.Context, round Round) {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if err := r.store.Save(ctx, round); err != nil {
		r.log.Error("save round", zap.String("room", round.RoomCode), zap.Int("round", round.Round), zap.Error(err))
	}
}

// Close drains the queue and closes the store. Call it after Run returns.
func (r *Recorder) Close(ctx context.Context) error {
	r.drain(ctx)
	return r.store.Close(ctx)
}
