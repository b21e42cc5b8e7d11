package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/a2a"
)

// fakeDiscoverer serves canned cards keyed by base URL.
type fakeDiscoverer struct {
	mu    sync.Mutex
	cards map[string]*a2a.Card
	errs  map[string]error
	calls map[string]int
}

func newFakeDiscoverer() *fakeDiscoverer {
	return &fakeDiscoverer{
		cards: make(map[string]*a2a.Card),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeDiscoverer) Discover(_ context.Context, baseURL string) (*a2a.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[baseURL]++
	if err, ok := f.errs[baseURL]; ok {
		return nil, err
	}
	if card, ok := f.cards[baseURL]; ok {
		return card, nil
	}
	return nil, a2a.ErrRemoteUnavailable
}

func (f *fakeDiscoverer) set(baseURL string, card *a2a.Card) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards[baseURL] = card
	delete(f.errs, baseURL)
}

func (f *fakeDiscoverer) fail(baseURL string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[baseURL] = err
}

func cardNamed(name string) *a2a.Card {
	return &a2a.Card{
		Name:    name,
		URL:     "http://" + name,
		Version: "1.0.0",
		Skills:  []a2a.Skill{{ID: "s", Name: "Skill", Tags: []string{name}}},
		Capabilities: a2a.Capabilities{
			Streaming: true,
		},
	}
}

func TestRegistryDiscover(t *testing.T) {
	t.Run("stores the descriptor on success", func(t *testing.T) {
		disc := newFakeDiscoverer()
		disc.set("http://docs:9001", cardNamed("doc-search"))

		reg := New(disc, nil)
		reg.Register("docs", "http://docs:9001")

		d, err := reg.Discover(t.Context(), "docs")
		require.NoError(t, err)
		assert.Equal(t, "docs", d.ID)
		assert.Equal(t, "doc-search", d.DisplayName)
		assert.True(t, d.SupportsStreaming)
	})

	t.Run("unknown backend", func(t *testing.T) {
		reg := New(newFakeDiscoverer(), nil)
		_, err := reg.Discover(t.Context(), "ghost")
		assert.ErrorIs(t, err, ErrUnknownBackend)
	})

	t.Run("failure keeps the previous descriptor usable", func(t *testing.T) {
		disc := newFakeDiscoverer()
		disc.set("http://docs:9001", cardNamed("doc-search"))

		reg := New(disc, nil)
		reg.Register("docs", "http://docs:9001")
		_, err := reg.Discover(t.Context(), "docs")
		require.NoError(t, err)

		disc.fail("http://docs:9001", a2a.ErrRemoteUnavailable)
		_, err = reg.Discover(t.Context(), "docs")
		require.ErrorIs(t, err, a2a.ErrRemoteUnavailable)

		// The stale descriptor is still served.
		d, err := reg.Get("docs")
		require.NoError(t, err)
		assert.Equal(t, "doc-search", d.DisplayName)
		assert.Len(t, reg.Snapshot(), 1)

		// But the entry is reported unhealthy.
		infos := reg.List()
		require.Len(t, infos, 1)
		assert.False(t, infos[0].Healthy)
		assert.True(t, infos[0].Discovered)
		assert.NotEmpty(t, infos[0].LastError)
	})

	t.Run("records discovery outcomes on the metrics hook", func(t *testing.T) {
		disc := newFakeDiscoverer()
		disc.set("http://docs:9001", cardNamed("doc-search"))

		var observed []string
		reg := New(disc, nil).WithMetrics(metricsFunc(func(id string, err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			observed = append(observed, id+":"+outcome)
		}))
		reg.Register("docs", "http://docs:9001")
		reg.Register("ghost", "http://ghost:9002")

		_, _ = reg.Discover(t.Context(), "docs")
		_, _ = reg.Discover(t.Context(), "ghost")
		assert.Equal(t, []string{"docs:ok", "ghost:error"}, observed)
	})
}

type metricsFunc func(backendID string, err error)

func (f metricsFunc) ObserveDiscovery(backendID string, err error) { f(backendID, err) }

func TestRegistryRegister(t *testing.T) {
	t.Run("re-registering the same address is a no-op", func(t *testing.T) {
		disc := newFakeDiscoverer()
		disc.set("http://docs:9001", cardNamed("doc-search"))

		reg := New(disc, nil)
		reg.Register("docs", "http://docs:9001")
		_, err := reg.Discover(t.Context(), "docs")
		require.NoError(t, err)

		reg.Register("docs", "http://docs:9001")
		_, err = reg.Get("docs")
		assert.NoError(t, err)
	})

	t.Run("changing the address drops the stale descriptor", func(t *testing.T) {
		disc := newFakeDiscoverer()
		disc.set("http://docs:9001", cardNamed("doc-search"))

		reg := New(disc, nil)
		reg.Register("docs", "http://docs:9001")
		_, err := reg.Discover(t.Context(), "docs")
		require.NoError(t, err)

		reg.Register("docs", "http://docs:9999")
		_, err = reg.Get("docs")
		assert.ErrorIs(t, err, ErrUnknownBackend)
	})
}

func TestRegistryEnsureDiscovered(t *testing.T) {
	disc := newFakeDiscoverer()
	disc.set("http://docs:9001", cardNamed("doc-search"))
	disc.fail("http://imgs:9002", errors.New("connection refused"))

	reg := New(disc, nil)
	reg.Register("docs", "http://docs:9001")
	reg.Register("imgs", "http://imgs:9002")

	// One dead backend never blocks the others.
	reg.EnsureDiscovered(t.Context())
	assert.Len(t, reg.Snapshot(), 1)

	// Already-discovered entries are not fetched again.
	reg.EnsureDiscovered(t.Context())
	disc.mu.Lock()
	docsCalls := disc.calls["http://docs:9001"]
	disc.mu.Unlock()
	assert.Equal(t, 1, docsCalls)

	// A recovered backend shows up on the next pass.
	disc.set("http://imgs:9002", cardNamed("image-caption"))
	reg.EnsureDiscovered(t.Context())
	assert.Len(t, reg.Snapshot(), 2)
}

func TestRegistrySnapshot(t *testing.T) {
	t.Run("preserves registration order", func(t *testing.T) {
		disc := newFakeDiscoverer()
		disc.set("http://b", cardNamed("backend-b"))
		disc.set("http://a", cardNamed("backend-a"))
		disc.set("http://c", cardNamed("backend-c"))

		reg := New(disc, nil)
		reg.Register("b", "http://b")
		reg.Register("a", "http://a")
		reg.Register("c", "http://c")
		reg.EnsureDiscovered(t.Context())

		snapshot := reg.Snapshot()
		require.Len(t, snapshot, 3)
		assert.Equal(t, "b", snapshot[0].ID)
		assert.Equal(t, "a", snapshot[1].ID)
		assert.Equal(t, "c", snapshot[2].ID)
	})

	t.Run("snapshots are isolated copies", func(t *testing.T) {
		disc := newFakeDiscoverer()
		disc.set("http://docs:9001", cardNamed("doc-search"))

		reg := New(disc, nil)
		reg.Register("docs", "http://docs:9001")
		reg.EnsureDiscovered(t.Context())

		snapshot := reg.Snapshot()
		require.Len(t, snapshot, 1)
		snapshot[0].Skills[0].Tags[0] = "mutated"

		fresh := reg.Snapshot()
		assert.Equal(t, "doc-search", fresh[0].Skills[0].Tags[0])
	})
}

func TestRegistryRefreshAll(t *testing.T) {
	disc := newFakeDiscoverer()
	disc.set("http://docs:9001", cardNamed("doc-search"))

	reg := New(disc, nil)
	reg.Register("docs", "http://docs:9001")
	require.NoError(t, reg.RefreshAll(t.Context()))

	disc.mu.Lock()
	calls := disc.calls["http://docs:9001"]
	disc.mu.Unlock()
	assert.Equal(t, 1, calls)

	require.NoError(t, reg.RefreshAll(t.Context()))
	disc.mu.Lock()
	calls = disc.calls["http://docs:9001"]
	disc.mu.Unlock()
	assert.Equal(t, 2, calls)
}
