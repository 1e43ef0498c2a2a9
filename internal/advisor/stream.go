package advisor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// StreamEventType is the kind of a streaming advisor event.
type StreamEventType string

const (
	EventAck       StreamEventType = "ack"
	EventPhase     StreamEventType = "phase"
	EventChunk     StreamEventType = "chunk"
	EventError     StreamEventType = "error"
	EventDone      StreamEventType = "done"
	EventHeartbeat StreamEventType = "heartbeat"
)

// StreamEvent is one typed event from the streaming advisor. Chunk events
// carry a content delta; done may carry the final authoritative content.
type StreamEvent struct {
	Type           StreamEventType
	Content        string
	Phase          string
	ConversationID string
	Err            string
}

type streamData struct {
	Content        string `json:"content"`
	Phase          string `json:"phase"`
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

// Stream opens a streaming exchange with the advisor and returns a channel
// of typed events. The channel is closed and the underlying response body
// released on every exit path: normal completion, upstream error, or caller
// cancellation through ctx.
func (c *Client) Stream(ctx context.Context, user, conversationID, question string) (<-chan StreamEvent, error) {
	data, err := json.Marshal(request{
		User:           user,
		ConversationID: conversationID,
		Payload:        map[string]any{"question": question},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/draft/stream", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// The stream outlives any request timeout; cancellation is the caller's
	// ctx, so use a client without the blanket timeout.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("advisor stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var env envelope
		_ = json.NewDecoder(resp.Body).Decode(&env)
		resp.Body.Close()
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}

	ch := make(chan StreamEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var eventName, dataLine string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case strings.HasPrefix(line, ":"):
				// SSE comment, used by some deployments as keepalive.
			case line == "":
				if eventName == "" && dataLine == "" {
					continue
				}
				ev := parseStreamEvent(eventName, dataLine)
				eventName, dataLine = "", ""
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Type == EventDone || ev.Type == EventError {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- StreamEvent{Type: EventError, Err: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

func parseStreamEvent(name, data string) StreamEvent {
	var d streamData
	if data != "" {
		_ = json.Unmarshal([]byte(data), &d)
	}

	switch StreamEventType(name) {
	case EventAck:
		return StreamEvent{Type: EventAck, ConversationID: d.ConversationID}
	case EventPhase:
		return StreamEvent{Type: EventPhase, Phase: d.Phase}
	case EventChunk:
		return StreamEvent{Type: EventChunk, Content: d.Content}
	case EventDone:
		return StreamEvent{Type: EventDone, Content: d.Content}
	case EventError:
		msg := d.Message
		if msg == "" {
			msg = "stream failed"
		}
		return StreamEvent{Type: EventError, Err: msg}
	case EventHeartbeat:
		return StreamEvent{Type: EventHeartbeat}
	default:
		// Unknown event names degrade to heartbeats so the consumer loop
		// stays alive across advisor upgrades.
		return StreamEvent{Type: EventHeartbeat}
	}
}
