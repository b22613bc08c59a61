package linerpc

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
)

// ErrPipeTimeout is returned by Pipe.Next when no line arrives in time.
var ErrPipeTimeout = errors.New("linerpc: no line within timeout")

// Pipe is an in-memory Transport for tests. The server side uses it as a
// Transport; the test drives the peer side with Send, Next and Hangup.
type Pipe struct {
	in     chan []byte
	out    chan []byte
	eof    chan struct{}
	closed chan struct{}

	hangup    sync.Once
	closeOnce sync.Once
}

// NewPipe creates a connected in-memory transport. Up to 1024 outgoing
// lines are buffered before the server blocks.
func NewPipe() *Pipe {
	return &Pipe{
		in:     make(chan []byte),
		out:    make(chan []byte, 1024),
		eof:    make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (p *Pipe) ReadLine() ([]byte, error) {
	select {
	case line := <-p.in:
		return line, nil
	case <-p.eof:
		return nil, io.EOF
	case <-p.closed:
		return nil, io.ErrClosedPipe
	}
}

func (p *Pipe) WriteLine(line []byte) error {
	buf := append([]byte(nil), line...)
	select {
	case p.out <- buf:
		return nil
	case <-p.closed:
		return io.ErrClosedPipe
	}
}

// Close closes the server side. Pending output stays readable with Next.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// Done is closed once the server side has been closed.
func (p *Pipe) Done() <-chan struct{} {
	return p.closed
}

// Send delivers one line to the server. It blocks until the server reads
// it.
func (p *Pipe) Send(line string) error {
	select {
	case p.in <- []byte(line):
		return nil
	case <-p.eof:
		return io.ErrClosedPipe
	case <-p.closed:
		return io.ErrClosedPipe
	}
}

// Hangup signals end of input. The server sees io.EOF on its next read.
func (p *Pipe) Hangup() {
	p.hangup.Do(func() { close(p.eof) })
}

// Next returns the next line written by the server. It returns io.EOF when
// the server side is closed and all output has been read.
func (p *Pipe) Next(timeout time.Duration) ([]byte, error) {
	select {
	case line := <-p.out:
		return line, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line := <-p.out:
		return line, nil
	case <-p.closed:
		select {
		case line := <-p.out:
			return line, nil
		default:
			return nil, io.EOF
		}
	case <-timer.C:
		return nil, ErrPipeTimeout
	}
}

// NextMessage is like Next but decodes the line.
func (p *Pipe) NextMessage(timeout time.Duration) (*Message, error) {
	line, err := p.Next(timeout)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
