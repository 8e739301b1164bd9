package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taskdeck-ai/taskdeck/internal/event"
	"github.com/taskdeck-ai/taskdeck/internal/logging"
	"github.com/taskdeck-ai/taskdeck/pkg/types"
)

// Client talks to a remote engine over HTTP. Commands are plain
// request/response calls; the push channel is the engine's SSE feed, pumped
// onto the bus by Pump.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an engine client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusNotImplemented:
		return ErrUnsupported
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// SendMessage implements Engine.
func (c *Client) SendMessage(ctx context.Context, taskID, message string, images []string) error {
	body := map[string]any{"message": message}
	if len(images) > 0 {
		body["images"] = images
	}
	return c.do(ctx, http.MethodPost, "/task/"+url.PathEscape(taskID)+"/message", body, nil)
}

// StartExecution implements Engine.
func (c *Client) StartExecution(ctx context.Context, spec StartSpec) (string, error) {
	var out struct {
		ExecutionID string `json:"executionID"`
	}
	if err := c.do(ctx, http.MethodPost, "/task/"+url.PathEscape(spec.TaskID)+"/execution", spec, &out); err != nil {
		return "", err
	}
	return out.ExecutionID, nil
}

// StopExecution implements Engine.
func (c *Client) StopExecution(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, "/task/"+url.PathEscape(taskID)+"/stop", nil, nil)
}

// CreateAttempt implements Engine.
func (c *Client) CreateAttempt(ctx context.Context, taskID string) (*types.Attempt, error) {
	var attempt types.Attempt
	if err := c.do(ctx, http.MethodPost, "/task/"+url.PathEscape(taskID)+"/attempt", nil, &attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ListAttempts implements Engine.
func (c *Client) ListAttempts(ctx context.Context, taskID string) ([]*types.Attempt, error) {
	var attempts []*types.Attempt
	if err := c.do(ctx, http.MethodGet, "/task/"+url.PathEscape(taskID)+"/attempts", nil, &attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}

// GetAttemptSession implements Engine.
func (c *Client) GetAttemptSession(ctx context.Context, attemptID string) (string, error) {
	var out struct {
		SessionID string `json:"sessionID"`
	}
	if err := c.do(ctx, http.MethodGet, "/attempt/"+url.PathEscape(attemptID)+"/session", nil, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// UpdateAttemptSession implements Engine.
func (c *Client) UpdateAttemptSession(ctx context.Context, attemptID, sessionID string) error {
	body := map[string]string{"sessionID": sessionID}
	return c.do(ctx, http.MethodPut, "/attempt/"+url.PathEscape(attemptID)+"/session", body, nil)
}

// GetConversation implements Engine.
func (c *Client) GetConversation(ctx context.Context, attemptID string) (*types.ConversationRecord, error) {
	var rec types.ConversationRecord
	if err := c.do(ctx, http.MethodGet, "/attempt/"+url.PathEscape(attemptID)+"/conversation", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveConversation implements Engine.
func (c *Client) SaveConversation(ctx context.Context, attemptID string, rec *types.ConversationRecord) error {
	return c.do(ctx, http.MethodPut, "/attempt/"+url.PathEscape(attemptID)+"/conversation", rec, nil)
}

// Pump subscribes to the engine's SSE feed for one task and republishes each
// event onto the bus synchronously, preserving arrival order. It reconnects
// with exponential backoff and returns when ctx is cancelled.
func (c *Client) Pump(ctx context.Context, taskID string, bus *event.Bus) {
	log := logging.Component("engine.pump")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until cancelled

	for {
		err := c.streamOnce(ctx, taskID, bus)
		if ctx.Err() != nil {
			return
		}
		wait := bo.NextBackOff()
		if err != nil {
			log.Warn().Err(err).Str("taskID", taskID).Dur("retryIn", wait).Msg("event stream dropped")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// streamOnce holds one SSE connection open and publishes its events.
func (c *Client) streamOnce(ctx context.Context, taskID string, bus *event.Bus) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event?taskID="+url.QueryEscape(taskID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout on the stream itself.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "":
			if data.Len() > 0 {
				c.dispatch(taskID, data.String(), bus)
				data.Reset()
			}
		}
	}
	return scanner.Err()
}

// dispatch decodes one wire event and publishes it on the task's channel.
// Undecodable frames are dropped with a diagnostic and never interrupt the
// stream.
func (c *Client) dispatch(taskID, payload string, bus *event.Bus) {
	log := logging.Component("engine.pump")

	var frame struct {
		Type event.Type      `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		log.Warn().Err(err).Str("taskID", taskID).Msg("dropping malformed event frame")
		return
	}

	e := event.Event{TaskID: taskID, Type: frame.Type}
	switch frame.Type {
	case event.AgentMessage:
		var d event.AgentMessageData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			log.Warn().Err(err).Str("taskID", taskID).Msg("dropping malformed agent message")
			return
		}
		e.Data = d
	case event.ExecutionStarted:
		var d event.ExecutionStartedData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			log.Warn().Err(err).Str("taskID", taskID).Msg("dropping malformed execution.started")
			return
		}
		e.Data = d
	case event.ExecutionCompleted:
		var d event.ExecutionCompletedData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			log.Warn().Err(err).Str("taskID", taskID).Msg("dropping malformed execution.completed")
			return
		}
		e.Data = d
	case event.SessionReceived:
		var d event.SessionReceivedData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			log.Warn().Err(err).Str("taskID", taskID).Msg("dropping malformed session.received")
			return
		}
		e.Data = d
	default:
		log.Debug().Str("taskID", taskID).Str("type", string(frame.Type)).Msg("ignoring unknown event type")
		return
	}

	bus.PublishSync(e)
}
