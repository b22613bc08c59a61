// Package client talks to a linerpc server over a pair of byte streams,
// usually the standard input and output of a child process.
//
// Replies are matched to calls by request id. Messages tagged with any other
// string id are pushes from background tasks and are delivered to the
// subscriber of that task id. Pushes that arrive before anyone subscribed are
// kept in a bounded backlog, because a task may start pushing before the
// reply that announces its id has been read.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"

	"github.com/linerpc/linerpc"
)

// ErrClosed is returned by calls on a client whose connection has ended.
var ErrClosed = errors.New("client: connection closed")

// Options configures a client.
type Options struct {
	// Logger receives dropped and undecodable messages. Default: discard.
	Logger *slog.Logger
	// Backlog is the number of unclaimed pushes kept. Default: 1024
	Backlog int
	// Buffer is the channel capacity of a subscription. Default: 64
	Buffer int
}

func defaultOptions() Options {
	return Options{
		Logger:  slog.New(slog.DiscardHandler),
		Backlog: 1024,
		Buffer:  64,
	}
}

// Client is a connection to one server. It is safe for concurrent use.
type Client struct {
	t       linerpc.Transport
	opts    Options
	closeFn func() error

	wmu sync.Mutex

	mu         sync.Mutex
	pending    map[string]chan *linerpc.Message
	subs       map[string]*subscription
	backlog    map[string][]*linerpc.Message
	backlogLen int
	closed     bool
	closing    bool

	done      chan struct{}
	err       error
	closeOnce sync.Once
	closeErr  error
}

type subscription struct {
	ch   chan *linerpc.Message
	stop chan struct{}
}

// New creates a client reading messages from r and writing requests to w.
// Close closes r and w if they implement io.Closer.
func New(r io.Reader, w io.Writer, opts ...Options) *Client {
	t := linerpc.NewLineTransport(r, w)
	return newClient(t, t.Close, opts...)
}

func newClient(t linerpc.Transport, closeFn func() error, opts ...Options) *Client {
	options := defaultOptions()
	if len(opts) > 0 {
		opt := opts[0]
		if opt.Logger != nil {
			options.Logger = opt.Logger
		}
		if opt.Backlog > 0 {
			options.Backlog = opt.Backlog
		}
		if opt.Buffer > 0 {
			options.Buffer = opt.Buffer
		}
	}

	c := &Client{
		t:       t,
		opts:    options,
		closeFn: closeFn,
		pending: make(map[string]chan *linerpc.Message),
		subs:    make(map[string]*subscription),
		backlog: make(map[string][]*linerpc.Message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Start runs the named program and connects to its standard input and
// output. Its standard error is passed through to ours. Close ends the
// program's input and waits for it to exit.
func Start(ctx context.Context, name string, args []string, opts ...Options) (*Client, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	var c *Client
	c = newClient(linerpc.NewLineTransport(stdout, stdin), func() error {
		_ = stdin.Close()
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			_ = cmd.Process.Kill()
		}
		return cmd.Wait()
	}, opts...)
	return c, nil
}

type callRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      linerpc.ID `json:"id"`
	Method  string     `json:"method"`
	Params  any        `json:"params,omitzero"`
}

// Call sends a request and waits for its reply. A reply carrying an error
// object is returned as a message, not as an error.
func (c *Client) Call(ctx context.Context, method string, params any) (*linerpc.Message, error) {
	id := uuid.NewString()
	data, err := json.Marshal(callRequest{
		JSONRPC: linerpc.Version,
		ID:      linerpc.StringID(id),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	reply := make(chan *linerpc.Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.wmu.Lock()
	err = c.t.WriteLine(data)
	c.wmu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case msg := <-reply:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// CallResult is like Call but decodes the result into out. An error reply is
// returned as a *linerpc.Error.
func (c *Client) CallResult(ctx context.Context, method string, params any, out any) error {
	msg, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if msg.IsError() {
		return msg.Error
	}
	if out == nil {
		return nil
	}
	return msg.DecodeResult(out)
}

// Subscribe returns the pushes tagged with taskID, starting with any that
// arrived before the call. The channel is closed when the connection ends.
// The returned function ends the subscription.
//
// A subscriber that stops reading stalls delivery of every other message.
func (c *Client) Subscribe(taskID string) (<-chan *linerpc.Message, func()) {
	c.mu.Lock()
	queued := c.backlog[taskID]
	delete(c.backlog, taskID)
	c.backlogLen -= len(queued)

	sub := &subscription{
		ch:   make(chan *linerpc.Message, len(queued)+c.opts.Buffer),
		stop: make(chan struct{}),
	}
	for _, msg := range queued {
		sub.ch <- msg
	}
	if c.closed {
		close(sub.ch)
	} else {
		if old, ok := c.subs[taskID]; ok {
			close(old.stop)
		}
		c.subs[taskID] = sub
	}
	c.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			c.mu.Lock()
			if c.subs[taskID] == sub {
				delete(c.subs, taskID)
				close(sub.stop)
			}
			c.mu.Unlock()
		})
	}
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil if it ended cleanly or is
// still open.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close ends the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		c.closeErr = c.closeFn()
	})
	return c.closeErr
}

func (c *Client) readLoop() {
	for {
		line, err := c.t.ReadLine()
		if err != nil {
			c.finish(err)
			return
		}
		if len(line) == 0 {
			continue
		}
		var msg linerpc.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			c.opts.Logger.Warn("undecodable line from server", "error", err, "line", string(line))
			continue
		}
		c.route(&msg)
	}
}

func (c *Client) route(msg *linerpc.Message) {
	if !msg.ID.IsString() {
		// Our requests always carry string ids.
		c.opts.Logger.Warn("message with unknown id", "id", msg.ID.String(), "error", msg.Error)
		return
	}
	key := msg.ID.String()

	c.mu.Lock()
	if reply, ok := c.pending[key]; ok {
		delete(c.pending, key)
		c.mu.Unlock()
		reply <- msg
		return
	}
	sub, ok := c.subs[key]
	if !ok {
		c.queue(key, msg)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case sub.ch <- msg:
	case <-sub.stop:
	}
}

// queue keeps msg for a later subscriber. When the backlog is full the
// oldest push of an arbitrary task is dropped. c.mu must be held.
func (c *Client) queue(key string, msg *linerpc.Message) {
	if c.backlogLen >= c.opts.Backlog {
		for k, msgs := range c.backlog {
			c.opts.Logger.Warn("dropping unclaimed push", "task_id", k)
			if len(msgs) <= 1 {
				delete(c.backlog, k)
			} else {
				c.backlog[k] = msgs[1:]
			}
			c.backlogLen--
			break
		}
	}
	c.backlog[key] = append(c.backlog[key], msg)
	c.backlogLen++
}

func (c *Client) finish(err error) {
	c.mu.Lock()
	c.closed = true
	if errors.Is(err, io.EOF) || c.closing {
		err = nil
	}
	c.err = err
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()
	close(c.done)
}
