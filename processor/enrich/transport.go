package enrich

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/c360/lookupstream/errors"
	"github.com/c360/lookupstream/natsclient"
)

// HandlerFunc processes one inbound event.
type HandlerFunc func(ctx context.Context, data []byte)

// Transport moves events in and out of the processor.
type Transport interface {
	// Receive calls handler for every inbound event until ctx is done or the
	// input is exhausted.
	Receive(ctx context.Context, handler HandlerFunc) error

	// Publish sends one outbound event.
	Publish(ctx context.Context, data []byte) error

	// Destination names where Publish sends events, for logs and metrics.
	Destination() string
}

// StdioTransport reads newline delimited events from r and writes each
// result as one line to w.
type StdioTransport struct {
	r       io.Reader
	w       io.Writer
	mu      sync.Mutex
	maxLine int
}

// NewStdioTransport creates a line based transport. Lines longer than
// maxLine bytes abort Receive; zero means 1 MiB.
func NewStdioTransport(r io.Reader, w io.Writer, maxLine int) *StdioTransport {
	if maxLine <= 0 {
		maxLine = 1 << 20
	}
	return &StdioTransport{r: r, w: w, maxLine: maxLine}
}

// Receive returns nil at end of input.
func (t *StdioTransport) Receive(ctx context.Context, handler HandlerFunc) error {
	scanner := bufio.NewScanner(t.r)
	scanner.Buffer(make([]byte, 0, 64*1024), t.maxLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		handler(ctx, line)
	}

	if err := scanner.Err(); err != nil {
		return errors.WrapTransient(err, "StdioTransport", "Receive", "read input")
	}
	return nil
}

// Publish writes data followed by a newline.
func (t *StdioTransport) Publish(_ context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := make([]byte, 0, len(data)+1)
	line = append(append(line, data...), '\n')
	if _, err := t.w.Write(line); err != nil {
		return errors.WrapTransient(err, "StdioTransport", "Publish", "write output")
	}
	return nil
}

// Destination implements Transport.
func (t *StdioTransport) Destination() string {
	return "stdout"
}

// NATSTransport consumes one subject and publishes to another.
type NATSTransport struct {
	client        *natsclient.Client
	inputSubject  string
	outputSubject string
	queueGroup    string
}

// NewNATSTransport creates a transport on a connected client. An empty
// queueGroup gives every subscriber a copy of each event.
func NewNATSTransport(client *natsclient.Client, inputSubject, outputSubject, queueGroup string) (*NATSTransport, error) {
	if client == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "NATSTransport", "New", "NATS client required")
	}
	if inputSubject == "" || outputSubject == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSTransport", "New",
			"input and output subjects are required")
	}
	if inputSubject == outputSubject {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "NATSTransport", "New",
			fmt.Sprintf("input and output subject are both %q", inputSubject))
	}
	return &NATSTransport{
		client:        client,
		inputSubject:  inputSubject,
		outputSubject: outputSubject,
		queueGroup:    queueGroup,
	}, nil
}

// Receive subscribes and blocks until ctx is done.
func (t *NATSTransport) Receive(ctx context.Context, handler HandlerFunc) error {
	err := t.client.Subscribe(ctx, t.inputSubject, t.queueGroup, func(msgCtx context.Context, _ string, data []byte) {
		handler(msgCtx, data)
	})
	if err != nil {
		return errors.WrapTransient(err, "NATSTransport", "Receive", fmt.Sprintf("subscribe to %s", t.inputSubject))
	}

	<-ctx.Done()
	return nil
}

// Publish implements Transport.
func (t *NATSTransport) Publish(ctx context.Context, data []byte) error {
	if err := t.client.Publish(ctx, t.outputSubject, data); err != nil {
		return errors.WrapTransient(err, "NATSTransport", "Publish", fmt.Sprintf("publish to %s", t.outputSubject))
	}
	return nil
}

// Destination implements Transport.
func (t *NATSTransport) Destination() string {
	return t.outputSubject
}
