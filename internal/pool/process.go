package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/CZERTAINLY/jqplay/internal/jq"
	"github.com/CZERTAINLY/jqplay/internal/model"

	"github.com/google/uuid"
)

// ProcessSpawner starts workers as child processes. The child must run Serve
// on its stdin and stdout, which is what `jqplay _worker` does.
type ProcessSpawner struct {
	Path string
	Args []string
	Env  []string
	// Stderr receives the diagnostics of the children, nil discards them.
	Stderr io.Writer
}

func (s ProcessSpawner) Spawn(ctx context.Context) (Worker, error) {
	// not CommandContext: the child outlives the spawning request
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = s.Env
	cmd.Stderr = s.Stderr
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	w := &processWorker{
		id:    uuid.NewString(),
		cmd:   cmd,
		stdin: stdin,
		enc:   json.NewEncoder(stdin),
		dec:   json.NewDecoder(stdout),
		done:  make(chan struct{}),
	}
	go w.wait(ctx)
	return w, nil
}

type processWorker struct {
	id    string
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mx  sync.Mutex // one request at a time
	enc *json.Encoder
	dec *json.Decoder

	killOnce sync.Once
	done     chan struct{}
	state    *os.ProcessState
}

func (w *processWorker) ID() string {
	return w.id
}

func (w *processWorker) Pid() int {
	return w.cmd.Process.Pid
}

func (w *processWorker) Evaluate(_ context.Context, req model.ExecutionRequest) (jq.Output, error) {
	w.mx.Lock()
	defer w.mx.Unlock()

	err := w.enc.Encode(WireRequest{
		ID:      req.ID,
		Input:   req.Input,
		Query:   req.Query,
		Options: req.Options,
	})
	if err != nil {
		return jq.Output{}, fmt.Errorf("sending request: %w", w.exitErr(err))
	}

	var reply WireReply
	if err := w.dec.Decode(&reply); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return jq.Output{}, w.exitErr(err)
		}
		return jq.Output{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if reply.ID != req.ID {
		return jq.Output{}, fmt.Errorf("%w: reply for request %q, expected %q", ErrProtocol, reply.ID, req.ID)
	}
	if reply.Error != "" {
		return jq.Output{}, fmt.Errorf("worker: %s", reply.Error)
	}
	return jq.Output{Stdout: reply.Stdout, Stderr: reply.Stderr}, nil
}

// exitErr describes err in terms of the child having exited, if it did.
func (w *processWorker) exitErr(err error) error {
	select {
	case <-w.done:
		if w.state != nil {
			return fmt.Errorf("worker process exited: %s", w.state)
		}
		return errors.New("worker process exited")
	default:
		return err
	}
}

func (w *processWorker) Kill() {
	w.killOnce.Do(func() {
		_ = w.stdin.Close()
		select {
		case <-w.done:
			return // reaped, the pid may be reused already
		default:
		}
		err := killProcess(w.cmd.Process)
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Warn("killing worker process", "worker_id", w.id, "error", err)
		}
	})
}

func (w *processWorker) Done() <-chan struct{} {
	return w.done
}

func (w *processWorker) wait(ctx context.Context) {
	err := w.cmd.Wait()
	w.state = w.cmd.ProcessState
	close(w.done)
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		slog.WarnContext(ctx, "waiting for worker process", "worker_id", w.id, "error", err)
		return
	}
	slog.DebugContext(ctx, "worker process exited", "worker_id", w.id, "state", w.state.String())
}
