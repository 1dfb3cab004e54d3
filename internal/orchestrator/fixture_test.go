package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/dispatcher"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/hash/sha256"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/integrator"
	pubmemory "github.com/JakeFAU/social-crawl-orchestrator/internal/publisher/memory"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/storage/memory"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/worker"
)

type fakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type triggerCall struct {
	platform crawler.Platform
	urls     []string
	params   crawler.PlatformParams
}

// fakeProvider hands out snapshot ids "s_<platform>_<n>" and answers polls
// and fetches from per-handle tables.
type fakeProvider struct {
	mu         sync.Mutex
	calls      []triggerCall
	failFor    map[crawler.Platform]error
	statuses   map[string]crawler.SnapshotStatus
	snapshots  map[string]crawler.Snapshot
	pollErrFor map[string]error
	gate       *triggerGate
}

// triggerGate holds the next Trigger call until release is closed.
type triggerGate struct {
	entered chan struct{}
	release chan struct{}
}

func (p *fakeProvider) gateNext() *triggerGate {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate = &triggerGate{entered: make(chan struct{}), release: make(chan struct{})}
	return p.gate
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		failFor:    map[crawler.Platform]error{},
		statuses:   map[string]crawler.SnapshotStatus{},
		snapshots:  map[string]crawler.Snapshot{},
		pollErrFor: map[string]error{},
	}
}

func (p *fakeProvider) Trigger(
	_ context.Context,
	platform crawler.Platform,
	urls []string,
	params crawler.PlatformParams,
) (crawler.TriggerResult, error) {
	if !platform.Valid() {
		return crawler.TriggerResult{}, crawler.ErrPlatformUnsupported
	}
	p.mu.Lock()
	gate := p.gate
	p.gate = nil
	p.mu.Unlock()
	if gate != nil {
		close(gate.entered)
		<-gate.release
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, triggerCall{platform: platform, urls: append([]string(nil), urls...), params: params})
	if err := p.failFor[platform]; err != nil {
		return crawler.TriggerResult{}, err
	}
	return crawler.TriggerResult{
		Handle:    fmt.Sprintf("s_%s_%d", platform, len(p.calls)),
		DatasetID: "gd_" + string(platform),
	}, nil
}

func (p *fakeProvider) PollStatus(_ context.Context, handle string) (crawler.SnapshotStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.pollErrFor[handle]; err != nil {
		return crawler.SnapshotStatus{}, err
	}
	status, ok := p.statuses[handle]
	if !ok {
		return crawler.SnapshotStatus{State: crawler.ProviderStateNotFound}, nil
	}
	return status, nil
}

func (p *fakeProvider) FetchResults(_ context.Context, handle string, _ crawler.ResultFormat) (crawler.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snapshots[handle]
	if !ok {
		return crawler.Snapshot{}, crawler.ErrJobNotCompleted
	}
	return snap, nil
}

func (p *fakeProvider) complete(handle string, rows ...map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[handle] = crawler.SnapshotStatus{State: crawler.ProviderStateCompleted, RawStatus: "ready", TotalRows: len(rows)}
	p.snapshots[handle] = crawler.Snapshot{Format: crawler.FormatJSON, ContentType: "application/json", Rows: rows}
}

func (p *fakeProvider) setState(handle string, state crawler.ProviderState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[handle] = crawler.SnapshotStatus{State: state}
}

func (p *fakeProvider) triggerCalls() []triggerCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]triggerCall(nil), p.calls...)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("evt-%d", g.n), nil
}

type fixture struct {
	store     *memory.Store
	provider  *fakeProvider
	clock     *fakeClock
	publisher *pubmemory.Publisher
	service   *Service
	rome      *time.Location
}

// monday is 2024-03-04 11:00 in Rome.
var monday = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)

	f := &fixture{
		store:     memory.NewStore(),
		provider:  newFakeProvider(),
		clock:     &fakeClock{now: monday},
		publisher: pubmemory.New(),
		rome:      rome,
	}
	integ := integrator.New(f.store, f.clock, rome, zap.NewNop())
	processor := worker.NewProcessor(
		f.provider,
		f.store,
		nil,
		integ,
		memory.NewBlobStore(),
		f.publisher,
		sha256.New(),
		f.clock,
		&seqIDs{},
		worker.Config{BlobPrefix: "snapshots", Topic: "crawl-jobs"},
		zap.NewNop(),
	)
	drainer := dispatcher.New(processor, dispatcher.Config{Workers: 2}, zap.NewNop())
	f.service = New(f.store, f.provider, processor, drainer, integ, f.clock, Config{Location: rome}, zap.NewNop())
	return f
}

func (f *fixture) addMapping(t *testing.T, business int64, platform crawler.Platform, url string, params crawler.PlatformParams) crawler.SocialMapping {
	t.Helper()
	m, created, err := f.store.CreateMapping(context.Background(), crawler.SocialMapping{
		BusinessID: business,
		Platform:   platform,
		URL:        url,
		Params:     params,
		Active:     true,
		CreatedAt:  f.clock.Now(),
	})
	require.NoError(t, err)
	require.True(t, created)
	return m
}

func intPtr(v int) *int { return &v }

var errProviderDown = fmt.Errorf("%w: connection refused", crawler.ErrProviderUnavailable)

func requireNotFound(t *testing.T, err error) {
	t.Helper()
	require.True(t, errors.Is(err, crawler.ErrNotFound), "expected not found, got %v", err)
}
