package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/CZERTAINLY/jqplay/internal/jq"
	"github.com/CZERTAINLY/jqplay/internal/model"
)

var (
	ErrClosed = errors.New("pool closed")
	// ErrWorkerKilled is returned by Evaluate of a worker killed mid request.
	ErrWorkerKilled = errors.New("worker killed")
	// ErrProtocol is a malformed reply from a worker process.
	ErrProtocol = errors.New("malformed worker reply")
)

// Worker evaluates one request at a time in isolation.
type Worker interface {
	ID() string
	// Evaluate blocks until the reply arrives or the worker dies.
	Evaluate(ctx context.Context, req model.ExecutionRequest) (jq.Output, error)
	// Kill starts termination without waiting for it. It is safe to call
	// more than once.
	Kill()
	// Done is closed once the worker is fully gone.
	Done() <-chan struct{}
}

type Spawner interface {
	Spawn(ctx context.Context) (Worker, error)
}

type WorkerState int

const (
	StateIdle WorkerState = iota
	StateBusy
	StateTerminating
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateTerminating:
		return "terminating"
	default:
		return fmt.Sprintf("WorkerState(%d)", int(s))
	}
}

// WireRequest is a request sent to a worker process.
type WireRequest struct {
	ID      string       `json:"id"`
	Input   string       `json:"input"`
	Query   string       `json:"query"`
	Options []model.Flag `json:"options,omitempty"`
}

// WireReply is the answer of a worker process to a WireRequest with the same id.
type WireReply struct {
	ID     string `json:"id"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error,omitempty"`
}
