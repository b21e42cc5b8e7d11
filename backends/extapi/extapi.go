// Package extapi is a demo backend that wraps an arbitrary external
// REST endpoint: it adapts the query into the endpoint's JSON request
// shape, calls it, and streams the formatted reply back over the A2A
// protocol. It shows how any existing HTTP service can be mounted as a
// delegatable backend without changes on the service side.
package extapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentrelay/agentrelay/a2a"
)

// Config holds the wrapped endpoint's address and call options.
type Config struct {
	// APIURL is the endpoint queries are forwarded to.
	APIURL string
	// APIKey, when set, is sent as a bearer token.
	APIKey string
	// Timeout bounds each forwarded call.
	Timeout time.Duration
	// Headers are additional headers sent on every call.
	Headers map[string]string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		APIURL:  "http://localhost:8000/api/predict",
		Timeout: 30 * time.Second,
	}
}

// Executor implements a2a.Executor over one wrapped REST endpoint.
type Executor struct {
	config *Config
	client *http.Client
}

// NewExecutor creates an Executor. A nil config uses DefaultConfig.
func NewExecutor(config *Config) *Executor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Executor{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Card implements a2a.Executor.
func (e *Executor) Card() *a2a.Card {
	return &a2a.Card{
		Name:        "External API",
		Description: "Forwards queries to a configured REST endpoint and formats the reply",
		Version:     "1.0.0",
		Skills: []a2a.Skill{{
			ID:          "external_api",
			Name:        "External API",
			Description: "Call an external REST API endpoint",
			Tags:        []string{"api", "rest", "http"},
			Examples: []string{
				"Query external API",
				"Call API endpoint",
			},
		}},
		Capabilities:       a2a.Capabilities{Streaming: true},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
	}
}

// Execute implements a2a.Executor. An unreachable or failing endpoint
// degrades to an explanatory reply rather than a failed task: the
// delegation itself worked, the wrapped service did not.
func (e *Executor) Execute(ctx context.Context, req *a2a.InvokeRequest, sink a2a.EventSink) error {
	content, err := e.call(ctx, req.Query)
	if err != nil {
		content = fmt.Sprintf(
			"The external API at %s could not be reached: %v\n"+
				"Check that the endpoint is running and accessible.",
			e.config.APIURL, err,
		)
	}

	if err := sink.Send(ctx, &a2a.Event{Kind: a2a.EventChunk, Content: content}); err != nil {
		return err
	}
	return sink.Send(ctx, &a2a.Event{
		Kind:  a2a.EventStatus,
		State: a2a.StateCompleted,
		Final: true,
	})
}

// call forwards one query to the wrapped endpoint and formats its
// JSON reply.
func (e *Executor) call(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(transformQuery(query))
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range e.config.Headers {
		httpReq.Header.Set(k, v)
	}
	if e.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("endpoint returned malformed JSON: %w", err)
	}
	return formatResponse(out), nil
}

// transformQuery adapts the free-text query into the endpoint's request
// shape: a JSON object passes through, space-separated numbers become a
// feature vector, anything else is sent as text.
func transformQuery(query string) map[string]any {
	query = strings.TrimSpace(query)

	var obj map[string]any
	if err := json.Unmarshal([]byte(query), &obj); err == nil && obj != nil {
		return obj
	}

	if features, ok := parseFeatures(query); ok {
		return map[string]any{"features": features}
	}

	return map[string]any{"query": query, "text": query}
}

func parseFeatures(query string) ([]float64, bool) {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return nil, false
	}
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

// formatResponse renders the endpoint's reply for the caller:
// prediction-shaped responses get a readable summary, anything else is
// pretty-printed.
func formatResponse(resp map[string]any) string {
	if pred, ok := resp["prediction"]; ok {
		var b strings.Builder
		fmt.Fprintf(&b, "Prediction: %v\n", pred)
		if conf, ok := resp["confidence"].(float64); ok {
			fmt.Fprintf(&b, "Confidence: %.1f%%\n", conf*100)
		}
		if probs, ok := resp["probabilities"].(map[string]any); ok {
			b.WriteString("Probabilities:\n")
			labels := make([]string, 0, len(probs))
			for label := range probs {
				labels = append(labels, label)
			}
			sort.Strings(labels)
			for _, label := range labels {
				if p, ok := probs[label].(float64); ok {
					fmt.Fprintf(&b, "- %s: %.1f%%\n", label, p*100)
				}
			}
		}
		return b.String()
	}

	if result, ok := resp["result"]; ok {
		return fmt.Sprintf("Result: %v\n", result)
	}

	pretty, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", resp)
	}
	return string(pretty)
}

var _ a2a.Executor = (*Executor)(nil)
