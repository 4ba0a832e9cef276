package pool

import (
	"context"

	"github.com/CZERTAINLY/jqplay/internal/jq"
	"github.com/CZERTAINLY/jqplay/internal/model"

	"github.com/google/uuid"
)

// InProcessSpawner runs workers as goroutines of the current process. Kill
// is cooperative, a runaway query keeps its goroutine until the evaluator
// checks its context again.
type InProcessSpawner struct {
	Evaluator jq.Evaluator
}

func (s InProcessSpawner) Spawn(context.Context) (Worker, error) {
	ev := s.Evaluator
	if ev == nil {
		ev = jq.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &inProcessWorker{
		id:     uuid.NewString(),
		ev:     ev,
		ctx:    ctx,
		cancel: cancel,
		calls:  make(chan call),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

type call struct {
	req   model.ExecutionRequest
	reply chan jq.Output
}

type inProcessWorker struct {
	id     string
	ev     jq.Evaluator
	ctx    context.Context
	cancel context.CancelFunc
	calls  chan call
	done   chan struct{}
}

func (w *inProcessWorker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case c := <-w.calls:
			c.reply <- w.ev.Evaluate(w.ctx, c.req.Input, c.req.Query, c.req.Options)
		}
	}
}

func (w *inProcessWorker) ID() string {
	return w.id
}

func (w *inProcessWorker) Evaluate(_ context.Context, req model.ExecutionRequest) (jq.Output, error) {
	c := call{req: req, reply: make(chan jq.Output, 1)}
	select {
	case w.calls <- c:
	case <-w.done:
		return jq.Output{}, ErrWorkerKilled
	}
	out := <-c.reply
	if w.ctx.Err() != nil {
		return jq.Output{}, ErrWorkerKilled
	}
	return out, nil
}

func (w *inProcessWorker) Kill() {
	w.cancel()
}

func (w *inProcessWorker) Done() <-chan struct{} {
	return w.done
}
