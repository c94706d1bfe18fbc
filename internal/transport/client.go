package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pitabwire/util"

	"github.com/antinvestor/pilot/internal/engine"
	"github.com/antinvestor/pilot/internal/events"
)

// maxStreamLine bounds one SSE data line; events carrying full issue
// bodies can get large.
const maxStreamLine = 1 << 20

// Client is the remote deployment of the transport contract. Commands
// go out as JSON POSTs; updates arrive over a server-sent event stream
// that reconnects with backoff until the client is disposed.
type Client struct {
	baseURL string
	httpc   *http.Client
	hub     *Hub

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient connects to a transport server at baseURL and starts
// consuming its update stream. A nil httpc uses a default client.
func NewClient(ctx context.Context, baseURL string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{}
	}
	streamCtx, cancel := context.WithCancel(ctx)
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
		hub:     NewHub(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.streamLoop(streamCtx)
	return c
}

// SendCommand implements Transport. The returned Ack reflects the
// engine's acknowledgement; the error covers transport failures only.
func (c *Client) SendCommand(ctx context.Context, cmd Command) (Ack, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return Ack{}, fmt.Errorf("encode command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/commands", bytes.NewReader(body))
	if err != nil {
		return Ack{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Ack{}, fmt.Errorf("send command: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return Ack{}, fmt.Errorf("decode ack (http %d): %w", resp.StatusCode, err)
	}
	return ack, nil
}

// Status fetches the server's system snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return Status{}, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return Status{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("status endpoint returned http %d", resp.StatusCode)
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

// OnStateUpdate implements Transport.
func (c *Client) OnStateUpdate(fn func(engine.StateUpdate)) Unsubscribe {
	return c.hub.OnStateUpdate(fn)
}

// OnLog implements Transport.
func (c *Client) OnLog(fn func(engine.LogEntry)) Unsubscribe {
	return c.hub.OnLog(fn)
}

// OnApprovalRequest implements Transport.
func (c *Client) OnApprovalRequest(fn func(engine.ApprovalRequest)) Unsubscribe {
	return c.hub.OnApprovalRequest(fn)
}

// OnEvent implements Transport.
func (c *Client) OnEvent(fn func(events.Event)) Unsubscribe {
	return c.hub.OnEvent(fn)
}

// Dispose implements Transport: stops the stream and releases all
// listeners.
func (c *Client) Dispose() error {
	c.cancel()
	<-c.done
	c.hub.Dispose()
	return nil
}

// streamLoop keeps one stream connection alive, reconnecting with
// exponential backoff on any drop until the client is disposed.
func (c *Client) streamLoop(ctx context.Context) {
	defer close(c.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	log := util.Log(ctx)
	for {
		err := c.consumeStream(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := b.NextBackOff()
		log.WithError(err).Warn("update stream dropped, reconnecting", "wait", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// consumeStream reads one SSE connection until it breaks.
func (c *Client) consumeStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream endpoint returned http %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	var name string
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name != "" && data.Len() > 0 {
				c.dispatch(ctx, name, data.Bytes())
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment.
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream closed by server")
}

// dispatch decodes one frame into its typed form and republishes it on
// the local hub, preserving arrival order.
func (c *Client) dispatch(ctx context.Context, name string, data []byte) {
	log := util.Log(ctx)
	switch name {
	case frameState:
		var u engine.StateUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			log.WithError(err).Warn("bad state frame")
			return
		}
		c.hub.PublishState(u)
	case frameLog:
		var e engine.LogEntry
		if err := json.Unmarshal(data, &e); err != nil {
			log.WithError(err).Warn("bad log frame")
			return
		}
		c.hub.PublishLog(e)
	case frameApproval:
		var a engine.ApprovalRequest
		if err := json.Unmarshal(data, &a); err != nil {
			log.WithError(err).Warn("bad approval frame")
			return
		}
		c.hub.PublishApproval(a)
	case frameEvent:
		var e events.Event
		if err := json.Unmarshal(data, &e); err != nil {
			log.WithError(err).Warn("bad event frame")
			return
		}
		c.hub.PublishEvent(e)
	default:
		log.Warn("unknown stream frame", "frame", name)
	}
}
