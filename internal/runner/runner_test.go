// internal/runner/runner_test.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/d3xf/scenic/api/schemas"
	"github.com/d3xf/scenic/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Fakes --

// fakeSession records driver calls in order and tracks Close.
type fakeSession struct {
	id string

	mu     sync.Mutex
	calls  []string
	closed bool

	// failOps maps an op prefix (e.g. "click:#a") to a forced error.
	failOps map[string]error
	// blockOps lists ops that block until the context is cancelled.
	blockOps map[string]bool
	// evaluateFn overrides the result of Evaluate; defaults to nil.
	evaluateFn func(code string) (interface{}, error)
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, failOps: map[string]error{}, blockOps: map[string]bool{}}
}

func (s *fakeSession) record(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls = append(s.calls, op)
	blocked := s.blockOps[op]
	err := s.failOps[op]
	s.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *fakeSession) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	return s.record(ctx, "navigate:" + url)
}

func (s *fakeSession) Click(ctx context.Context, selector string, direct bool) error {
	return s.record(ctx, "click:" + selector)
}

func (s *fakeSession) Type(ctx context.Context, selector, text string, direct bool) error {
	return s.record(ctx, fmt.Sprintf("type:%s:%s", selector, text))
}

func (s *fakeSession) Hover(ctx context.Context, selector string) error {
	return s.record(ctx, "hover:" + selector)
}

func (s *fakeSession) PressKey(ctx context.Context, key string) error {
	return s.record(ctx, "key:" + key)
}

func (s *fakeSession) SelectOption(ctx context.Context, selector string, index *int, value *string) error {
	return s.record(ctx, "select:" + selector)
}

func (s *fakeSession) ScrollTo(ctx context.Context, selector string, settle time.Duration) error {
	return s.record(ctx, "scroll:" + selector)
}

func (s *fakeSession) WaitForSelector(ctx context.Context, selector string) error {
	return s.record(ctx, "wait_selector:" + selector)
}

func (s *fakeSession) WaitForFunction(ctx context.Context, code string) error {
	return s.record(ctx, "wait_function:" + code)
}

func (s *fakeSession) WaitForLoadState(ctx context.Context, state string) error {
	return s.record(ctx, "wait_load:" + state)
}

func (s *fakeSession) Evaluate(ctx context.Context, code string) (interface{}, error) {
	if err := s.record(ctx, "evaluate:" + code); err != nil {
		return nil, err
	}
	s.mu.Lock()
	fn := s.evaluateFn
	s.mu.Unlock()
	if fn != nil {
		return fn(code)
	}
	return nil, nil
}

func (s *fakeSession) GetCookie(ctx context.Context, name, domain string) (string, bool, error) {
	if err := s.record(ctx, "get_cookie:" + name); err != nil {
		return "", false, err
	}
	return "value", true, nil
}

func (s *fakeSession) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	if err := s.record(ctx, "cookies"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *fakeSession) SetIframeScope(ctx context.Context, selector string) error {
	return s.record(ctx, "iframe:" + selector)
}

func (s *fakeSession) RemoveIframes(ctx context.Context) error {
	return s.record(ctx, "remove_iframes")
}

func (s *fakeSession) SetViewport(ctx context.Context, width, height int64) error {
	return s.record(ctx, fmt.Sprintf("viewport:%dx%d", width, height))
}

// fakeProvider hands out pre-scripted sessions.
type fakeProvider struct {
	mu      sync.Mutex
	serial  int
	created []*fakeSession
	pinned  map[string]*fakeSession
	newErr  error

	// makeSession lets a test customize each fresh session.
	makeSession func(id string) *fakeSession
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{pinned: map[string]*fakeSession{}}
}

func (p *fakeProvider) NewSession(ctx context.Context) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.newErr != nil {
		return nil, p.newErr
	}
	p.serial++
	id := fmt.Sprintf("sess-%d", p.serial)
	var s *fakeSession
	if p.makeSession != nil {
		s = p.makeSession(id)
	} else {
		s = newFakeSession(id)
	}
	p.created = append(p.created, s)
	return s, nil
}

func (p *fakeProvider) Session(id string) (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.pinned[id]
	if !ok {
		return nil, false
	}
	return s, true
}

type fakeStore struct {
	mu        sync.Mutex
	persisted []*schemas.RunResult
	err       error
}

func (st *fakeStore) PersistRun(ctx context.Context, res *schemas.RunResult) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.err != nil {
		return st.err
	}
	st.persisted = append(st.persisted, res)
	return nil
}

func newTestRunner(p SessionProvider, store schemas.RunStore) *Runner {
	cfg := config.NewDefaultConfig()
	cfg.Runner.Persist = store != nil
	return New(p, nil, store, cfg, zap.NewNop())
}

// -- Tests --

func TestRunDocumentNavigationSequence(t *testing.T) {
	provider := newFakeProvider()
	r := newTestRunner(provider, nil)

	doc := &schemas.Document{
		URL: "https://example.com",
		BrowserActions: schemas.Scenario{
			{Kind: schemas.ActionSetViewport, When: schemas.WhenBeforeLoad, Width: 800, Height: 600},
			{Kind: schemas.ActionClick, CSSSelector: "#submit"},
		},
	}

	res, err := r.RunDocument(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Success)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "sess-1", res.SessionID)
	assert.Equal(t, "https://example.com", res.TargetURL)
	assert.Empty(t, res.FailedPath)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	// beforeload work must precede navigation, afterload work must follow it.
	require.Len(t, provider.created, 1)
	sess := provider.created[0]
	assert.Equal(t, []string{
		"viewport:800x600",
		"navigate:https://example.com",
		"click:#submit",
	}, sess.callLog())
	assert.True(t, sess.isClosed())
}

func TestRunDocumentWithoutURLRunsSinglePass(t *testing.T) {
	provider := newFakeProvider()
	r := newTestRunner(provider, nil)

	doc := &schemas.Document{
		BrowserActions: schemas.Scenario{
			{Kind: schemas.ActionClick, CSSSelector: "#a"},
			{Kind: schemas.ActionHover, CSSSelector: "#b"},
		},
	}

	res, err := r.RunDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, res.Success)

	sess := provider.created[0]
	assert.Equal(t, []string{"click:#a", "hover:#b"}, sess.callLog())
}

func TestRunDocumentCapturesReturns(t *testing.T) {
	provider := newFakeProvider()
	provider.makeSession = func(id string) *fakeSession {
		s := newFakeSession(id)
		s.evaluateFn = func(code string) (interface{}, error) {
			return "token-123", nil
		}
		return s
	}
	r := newTestRunner(provider, nil)

	doc := &schemas.Document{
		BrowserActions: schemas.Scenario{
			{Kind: schemas.ActionExecuteJS, Code: "document.title"},
		},
	}

	res, err := r.RunDocument(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, res.CapturedReturns, 1)
	assert.Equal(t, "token-123", res.CapturedReturns[0])
}

func TestRunDocumentActionFailure(t *testing.T) {
	provider := newFakeProvider()
	provider.makeSession = func(id string) *fakeSession {
		s := newFakeSession(id)
		s.failOps["click:#missing"] = errors.New("element not found")
		return s
	}
	r := newTestRunner(provider, nil)

	doc := &schemas.Document{
		BrowserActions: schemas.Scenario{
			{Kind: schemas.ActionClick, CSSSelector: "#missing"},
			{Kind: schemas.ActionHover, CSSSelector: "#never"},
		},
	}

	res, err := r.RunDocument(context.Background(), doc)
	require.Error(t, err)
	require.NotNil(t, res)

	assert.False(t, res.Success)
	assert.Equal(t, "[0]", res.FailedPath)
	assert.Contains(t, res.Error, "element not found")

	// The abort must not skip session cleanup, and the second action must
	// never run.
	sess := provider.created[0]
	assert.True(t, sess.isClosed())
	assert.Equal(t, []string{"click:#missing"}, sess.callLog())
}

func TestRunDocumentValidationFailure(t *testing.T) {
	provider := newFakeProvider()
	r := newTestRunner(provider, nil)

	doc := &schemas.Document{
		BrowserActions: schemas.Scenario{
			{Kind: schemas.ActionClick}, // missing selector
		},
	}

	res, err := r.RunDocument(context.Background(), doc)
	require.Error(t, err)
	require.NotNil(t, res)

	assert.False(t, res.Success)
	assert.Equal(t, "[0]", res.FailedPath)
	assert.Empty(t, provider.created[0].callLog())
}

func TestRunDocumentPinnedSession(t *testing.T) {
	provider := newFakeProvider()
	pinned := newFakeSession("pinned-1")
	provider.pinned["pinned-1"] = pinned
	r := newTestRunner(provider, nil)

	doc := &schemas.Document{
		Session: "pinned-1",
		BrowserActions: schemas.Scenario{
			{Kind: schemas.ActionClick, CSSSelector: "#a"},
		},
	}

	res, err := r.RunDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "pinned-1", res.SessionID)

	// A borrowed session stays open; its owner decides when it dies.
	assert.False(t, pinned.isClosed())
	assert.Empty(t, provider.created)
}

func TestRunDocumentUnknownPinnedSession(t *testing.T) {
	provider := newFakeProvider()
	r := newTestRunner(provider, nil)

	doc := &schemas.Document{Session: "nope"}

	res, err := r.RunDocument(context.Background(), doc)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "unknown session")
}

func TestRunDocumentSessionAcquisitionFailure(t *testing.T) {
	provider := newFakeProvider()
	provider.newErr = errors.New("browser exploded")
	r := newTestRunner(provider, nil)

	res, err := r.RunDocument(context.Background(), &schemas.Document{})
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestRunDocumentPersistsResult(t *testing.T) {
	provider := newFakeProvider()
	store := &fakeStore{}
	r := newTestRunner(provider, store)

	doc := &schemas.Document{
		BrowserActions: schemas.Scenario{
			{Kind: schemas.ActionClick, CSSSelector: "#a"},
		},
	}

	res, err := r.RunDocument(context.Background(), doc)
	require.NoError(t, err)

	require.Len(t, store.persisted, 1)
	assert.Equal(t, res.RunID, store.persisted[0].RunID)
}

func TestRunDocumentPersistFailureDoesNotMaskResult(t *testing.T) {
	provider := newFakeProvider()
	store := &fakeStore{err: errors.New("db down")}
	r := newTestRunner(provider, store)

	doc := &schemas.Document{
		BrowserActions: schemas.Scenario{
			{Kind: schemas.ActionClick, CSSSelector: "#a"},
		},
	}

	res, err := r.RunDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRunDocumentAppliesConfiguredActionTimeout(t *testing.T) {
	provider := newFakeProvider()
	provider.makeSession = func(id string) *fakeSession {
		s := newFakeSession(id)
		s.blockOps["click:#slow"] = true
		return s
	}
	r := newTestRunner(provider, nil)
	r.cfg.Interpreter.ActionTimeout = 30 * time.Millisecond

	doc := &schemas.Document{
		BrowserActions: schemas.Scenario{
			{Kind: schemas.ActionClick, CSSSelector: "#slow"},
		},
	}

	start := time.Now()
	res, err := r.RunDocument(context.Background(), doc)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, "[0]", res.FailedPath)
	assert.Contains(t, res.Error, "timed out after 30ms")
	assert.Less(t, elapsed, 2*time.Second, "the configured timeout must bound the action, not the 60s default")
}

func TestRunDocumentsBatch(t *testing.T) {
	provider := newFakeProvider()
	provider.makeSession = func(id string) *fakeSession {
		s := newFakeSession(id)
		if id == "sess-2" {
			s.failOps["click:#x"] = errors.New("boom")
		}
		return s
	}
	r := newTestRunner(provider, nil)
	r.cfg.Runner.Concurrency = 2

	docs := make([]*schemas.Document, 3)
	for i := range docs {
		docs[i] = &schemas.Document{
			BrowserActions: schemas.Scenario{
				{Kind: schemas.ActionClick, CSSSelector: "#x"},
			},
		}
	}

	results, err := r.RunDocuments(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	failures := 0
	for _, res := range results {
		require.NotNil(t, res)
		if !res.Success {
			failures++
		}
	}
	// Exactly the run on the scripted session fails; the batch still
	// completes.
	assert.Equal(t, 1, failures)
	assert.Len(t, provider.created, 3)
}

func TestRunDocumentsInfrastructureFailureAborts(t *testing.T) {
	provider := newFakeProvider()
	provider.newErr = errors.New("no browser")
	r := newTestRunner(provider, nil)

	docs := []*schemas.Document{{}, {}}
	_, err := r.RunDocuments(context.Background(), docs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no browser")
}
