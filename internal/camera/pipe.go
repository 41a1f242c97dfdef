package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/logging"
)

const (
	pipeStartTimeout = 5 * time.Second
	pipeMaxFrame     = 4 << 20
)

var errPipeClosed = errors.New("pipe sensor closed")

// PipeSensor reads a JPEG stream from an external command's stdout, such as
// ffmpeg with "-f image2pipe -c:v mjpeg -". It keeps only the latest frame;
// each Capture waits for a frame newer than the last one it handed out.
type PipeSensor struct {
	Command string
	Args    []string
	Logger  *zap.Logger

	// open starts the frame producer; tests replace it.
	open func(ctx context.Context) (io.ReadCloser, func() error, error)

	mu     sync.Mutex
	cond   *sync.Cond
	latest []byte
	seq    uint64
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPipeSensor runs command with args as the frame producer.
func NewPipeSensor(command string, args []string, logger *zap.Logger) *PipeSensor {
	return &PipeSensor{Command: command, Args: args, Logger: logging.OrGlobal(logger, "pipe-sensor")}
}

func (p *PipeSensor) startCommand(ctx context.Context) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", p.Command, err)
	}
	return stdout, cmd.Wait, nil
}

// Configure starts the producer and waits for its first frame. The frame
// geometry is whatever the command was told to produce.
func (p *PipeSensor) Configure(cfg SensorConfig) error {
	if p.Logger == nil {
		p.Logger = logging.OrGlobal(nil, "pipe-sensor")
	}
	open := p.open
	if open == nil {
		open = p.startCommand
	}

	ctx, cancel := context.WithCancel(context.Background())
	r, wait, err := open(ctx)
	if err != nil {
		cancel()
		return err
	}

	p.mu.Lock()
	p.cond = sync.NewCond(&p.mu)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.err = nil
	p.mu.Unlock()

	go p.readLoop(r, wait)

	deadline := time.Now().Add(pipeStartTimeout)
	for {
		p.mu.Lock()
		seq, rerr := p.seq, p.err
		p.mu.Unlock()
		if seq > 0 {
			return nil
		}
		if rerr != nil {
			p.Close()
			return fmt.Errorf("producer exited before first frame: %w", rerr)
		}
		if time.Now().After(deadline) {
			p.Close()
			return fmt.Errorf("no frame within %s", pipeStartTimeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (p *PipeSensor) readLoop(r io.ReadCloser, wait func() error) {
	defer close(p.done)
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Split(ScanJPEG)
	scanner.Buffer(make([]byte, 256*1024), pipeMaxFrame)

	for scanner.Scan() {
		frame := scanner.Bytes()
		if len(frame) == 0 {
			continue
		}
		p.mu.Lock()
		p.latest = append(p.latest[:0], frame...)
		p.seq++
		p.cond.Broadcast()
		p.mu.Unlock()
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	if werr := wait(); werr != nil {
		err = fmt.Errorf("%w (producer: %v)", err, werr)
	}
	p.Logger.Warn("Frame producer stopped", zap.Error(err))

	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *PipeSensor) Capture(ctx context.Context, dst []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cond == nil {
		return dst, fmt.Errorf("pipe sensor not configured")
	}

	// Wake the wait below when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	start := p.seq
	for p.seq == start && p.err == nil && ctx.Err() == nil {
		p.cond.Wait()
	}
	if p.seq == start {
		if err := ctx.Err(); err != nil {
			return dst, err
		}
		return dst, p.err
	}
	return append(dst, p.latest...), nil
}

func (p *PipeSensor) Close() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	if p.err == nil {
		p.err = errPipeClosed
	}
	if p.cond != nil {
		p.cond.Broadcast()
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
