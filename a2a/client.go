package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ClientConfig holds configuration for the A2A client.
type ClientConfig struct {
	// Timeout is the timeout for discovery and non-streaming requests.
	Timeout time.Duration
	// InactivityTimeout is the maximum gap tolerated between two stream
	// events before the pull fails with ErrInactivity.
	InactivityTimeout time.Duration
	// DiscoveryRetries is the number of retries for failed card fetches.
	// Card fetches are idempotent; invocations are never retried here.
	DiscoveryRetries int
	// DiscoveryRetryDelay is the delay between card fetch retries.
	DiscoveryRetryDelay time.Duration
	// CardTTL bounds how long a fetched card is served from cache.
	CardTTL time.Duration
	// Headers are additional headers to include in requests.
	Headers map[string]string
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:             30 * time.Second,
		InactivityTimeout:   60 * time.Second,
		DiscoveryRetries:    2,
		DiscoveryRetryDelay: 500 * time.Millisecond,
		CardTTL:             5 * time.Minute,
		Headers:             make(map[string]string),
	}
}

// Client talks the A2A protocol to remote backends: card discovery and
// streaming or plain invocation.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client

	cardMu    sync.RWMutex
	cardCache map[string]*cachedCard
}

type cachedCard struct {
	card      *Card
	expiresAt time.Time
}

// NewClient creates a new Client with the given configuration.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	return &Client{
		config: config,
		// No global client timeout: it would cap streaming responses.
		// Discovery and plain invocations set per-request deadlines.
		httpClient: &http.Client{},
		cardCache:  make(map[string]*cachedCard),
	}
}

// Discover fetches the agent card from the backend at baseURL. A card
// fetched within CardTTL is served from cache.
func (c *Client) Discover(ctx context.Context, baseURL string) (*Card, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: empty url", ErrRemoteUnavailable)
	}

	c.cardMu.RLock()
	if cached, ok := c.cardCache[baseURL]; ok && time.Now().Before(cached.expiresAt) {
		c.cardMu.RUnlock()
		return cached.card, nil
	}
	c.cardMu.RUnlock()

	discoveryURL := strings.TrimRight(baseURL, "/") + WellKnownCardPath

	var lastErr error
	for attempt := 0; attempt <= c.config.DiscoveryRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.DiscoveryRetryDelay):
			}
		}

		card, err := c.fetchCard(ctx, discoveryURL)
		if err == nil {
			c.cardMu.Lock()
			c.cardCache[baseURL] = &cachedCard{
				card:      card,
				expiresAt: time.Now().Add(c.config.CardTTL),
			}
			c.cardMu.Unlock()
			return card, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) fetchCard(ctx context.Context, url string) (*Card, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrRemoteUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var card Card
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}
	if err := card.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}
	return &card, nil
}

// ClearCardCache drops all cached agent cards, forcing re-discovery on
// the next Discover call.
func (c *Client) ClearCardCache() {
	c.cardMu.Lock()
	c.cardCache = make(map[string]*cachedCard)
	c.cardMu.Unlock()
}

// Stream opens a streaming invocation against the backend at baseURL.
// The returned EventStream is lazily pulled: at most one event is read
// ahead of the consumer. The stream is finite and non-restartable.
func (c *Client) Stream(ctx context.Context, baseURL string, req *InvokeRequest) (*EventStream, error) {
	if req == nil {
		return nil, ErrInvalidEvent
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+StreamPath, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: status code %d", ErrRemoteUnavailable, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: unexpected content type %q", ErrInvalidEvent, ct)
	}

	es := &EventStream{
		body:       resp.Body,
		cancel:     cancel,
		events:     make(chan *Event),
		errs:       make(chan error, 1),
		inactivity: c.config.InactivityTimeout,
	}
	go es.read(streamCtx)
	return es, nil
}

// Invoke performs a non-streaming invocation against the backend at
// baseURL, used for backends whose card reports Streaming=false.
func (c *Client) Invoke(ctx context.Context, baseURL string, req *InvokeRequest) (*InvokeResponse, error) {
	if req == nil {
		return nil, ErrInvalidEvent
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+InvokePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrRemoteUnavailable, resp.StatusCode, string(respBody))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out InvokeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return &out, nil
}

// EventStream is a pull-based reader over one streaming invocation's
// SSE reply. The reader goroutine blocks handing each event to Next, so
// no network demand is made beyond one event of read-ahead.
type EventStream struct {
	body       io.ReadCloser
	cancel     context.CancelFunc
	events     chan *Event
	errs       chan error
	inactivity time.Duration

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

func (es *EventStream) read(ctx context.Context) {
	defer close(es.events)

	scanner := bufio.NewScanner(es.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			es.errs <- fmt.Errorf("%w: unexpected line %q", ErrInvalidEvent, line)
			return
		}

		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			es.errs <- fmt.Errorf("%w: %v", ErrInvalidEvent, err)
			return
		}
		if err := ev.Validate(); err != nil {
			es.errs <- err
			return
		}

		select {
		case es.events <- &ev:
		case <-ctx.Done():
			return
		}
		if ev.Terminal() {
			return
		}
	}

	if ctx.Err() != nil {
		// The caller tore the stream down; whatever the transport
		// reported on the way out is not a protocol fault.
		return
	}
	if err := scanner.Err(); err != nil {
		es.errs <- fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		return
	}
	// EOF before a terminal status event is a framing violation; the
	// normal end of stream is signalled by the closed events channel
	// after a terminal event was delivered.
	es.errs <- fmt.Errorf("%w: stream ended without terminal status", ErrInvalidEvent)
}

// Next returns the next event, blocking until one arrives, the stream
// ends, ctx is done, or the inactivity window elapses. Returns io.EOF
// after the terminal event has been consumed.
func (es *EventStream) Next(ctx context.Context) (*Event, error) {
	es.mu.Lock()
	if es.closed {
		es.mu.Unlock()
		return nil, ErrStreamClosed
	}
	es.mu.Unlock()

	var timeout <-chan time.Time
	if es.inactivity > 0 {
		timer := time.NewTimer(es.inactivity)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ev, ok := <-es.events:
		if !ok {
			select {
			case err := <-es.errs:
				return nil, err
			default:
				return nil, io.EOF
			}
		}
		return ev, nil
	case err := <-es.errs:
		return nil, err
	case <-timeout:
		es.Close()
		return nil, ErrInactivity
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close aborts the stream. Pending and future Next calls fail; the
// stream cannot be restarted.
func (es *EventStream) Close() error {
	es.closeOnce.Do(func() {
		es.mu.Lock()
		es.closed = true
		es.mu.Unlock()
		es.cancel()
		es.body.Close()
	})
	return nil
}
