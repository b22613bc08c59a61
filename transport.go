package linerpc

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
)

// Transport carries one JSON document per line in each direction for a
// single peer.
type Transport interface {
	// ReadLine returns the next line without its terminator, or io.EOF once
	// the peer has closed its side.
	ReadLine() ([]byte, error)
	// WriteLine writes line followed by a newline. The server calls it from
	// one goroutine at a time.
	WriteLine(line []byte) error
	// Close releases the transport. A blocked ReadLine may return an error.
	Close() error
}

// lineTransport frames lines over a plain byte stream.
type lineTransport struct {
	r      *bufio.Reader
	w      io.Writer
	closer []io.Closer
}

// NewLineTransport returns a transport reading lines from r and writing
// lines to w. If r or w implement io.Closer they are closed by Close.
func NewLineTransport(r io.Reader, w io.Writer) Transport {
	t := &lineTransport{r: bufio.NewReader(r), w: w}
	if c, ok := r.(io.Closer); ok {
		t.closer = append(t.closer, c)
	}
	if c, ok := w.(io.Closer); ok {
		t.closer = append(t.closer, c)
	}
	return t
}

// Stdio returns a transport over the process's standard input and output.
func Stdio() Transport {
	return &lineTransport{r: bufio.NewReader(os.Stdin), w: os.Stdout}
}

func (t *lineTransport) ReadLine() ([]byte, error) {
	line, err := t.r.ReadBytes('\n')
	if err != nil {
		// A final line without a terminator is still a line.
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return bytes.TrimRight(line, "\r"), nil
		}
		return nil, err
	}
	return bytes.TrimRight(line[:len(line)-1], "\r"), nil
}

func (t *lineTransport) WriteLine(line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := t.w.Write(buf)
	return err
}

func (t *lineTransport) Close() error {
	var errs []error
	for _, c := range t.closer {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
