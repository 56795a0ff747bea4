package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sunshine-walker-93/edge_config_admin/internal/diff"
	"github.com/sunshine-walker-93/edge_config_admin/internal/kv"
	"github.com/sunshine-walker-93/edge_config_admin/internal/rule"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequence(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

type fixture struct {
	store   *Store
	backend *kv.MemoryStore
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	backend := kv.NewMemoryStore()
	s := NewStore(backend, Options{
		Namespace: "test",
		Logger:    zaptest.NewLogger(t),
		Now:       clock.Now,
		NewID:     sequence("v"),
		NewToken:  sequence("tok"),
	})
	t.Cleanup(s.Close)
	return &fixture{store: s, backend: backend, clock: clock}
}

func samplePlan(id string) *Plan {
	return &Plan{
		ID: id,
		Rules: []rule.Rule{
			{ID: "r1", Body: rule.Cache{Path: "/img/*", TTL: 86400}},
			{ID: "r2", Description: "test header", Body: rule.Header{Action: "add", Name: "X-Test", Value: "1"}},
			{ID: "r3", Body: rule.Generic{Type: "experiment", Fields: map[string]json.RawMessage{"bucket": json.RawMessage(`"b"`)}}},
		},
	}
}

func TestGetActive_SeedsOnceOnEmptyStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.store.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, SystemOperator, first.PromotedBy)
	require.NotNil(t, first.PromotedAt)
	assert.Len(t, first.Plan.Rules, len(DefaultRules()))
	assert.Equal(t, first.ID, first.Plan.ID)

	second, err := f.store.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "second call must not reseed")

	versions, err := f.store.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, first.ID, versions[0].ID)
}

func TestSeeding_SkippedWhenActiveExists(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemoryStore()
	require.NoError(t, backend.Set(ctx, keyActive, []byte(`{"id":"existing","plan":{"id":"existing","rules":[],"createdAt":"2026-01-01T00:00:00Z"}}`)))

	s := NewStore(backend, Options{})
	defer s.Close()

	active, err := s.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "existing", active.ID)

	versions, err := s.ListVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestSaveDraft_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.store.SaveDraft(ctx, SaveDraftRequest{Plan: samplePlan("draft-1"), Description: "try", PromotedBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "draft-1", saved.ID)
	assert.Nil(t, saved.PromotedAt)

	got, err := f.store.GetDraft(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Plan.Rules, 3)
	for i, r := range samplePlan("draft-1").Rules {
		assert.Equal(t, r.ID, got.Plan.Rules[i].ID)
		assert.Equal(t, r.Type(), got.Plan.Rules[i].Type())
	}
	assert.Equal(t, rule.Cache{Path: "/img/*", TTL: 86400}, got.Plan.Rules[0].Body)
	assert.Equal(t, "try", got.Description)
	assert.Equal(t, "alice", got.PromotedBy)
	assert.Nil(t, got.PromotedAt)
}

func TestSaveDraft_RulesPassThroughUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := `[
		{"id":"r1","type":"cache","path":"/img/*","ttl":86400,"edgeTtl":30},
		{"id":"r2","type":"cache","path":"/css/*","ttl":"1d"},
		{"id":"r3","type":"cache","path":"/js/*","ttl":86400.5},
		{"id":"r4","type":"header","action":"add","name":"X-Test","value":"1","priority":2},
		{"id":"r5","type":"experiment","bucket":"b"}
	]`
	var rules []rule.Rule
	require.NoError(t, json.Unmarshal([]byte(in), &rules))

	_, err := f.store.SaveDraft(ctx, SaveDraftRequest{Plan: &Plan{ID: "d", Rules: rules}})
	require.NoError(t, err)

	got, err := f.store.GetDraft(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)

	out, err := json.Marshal(got.Plan.Rules)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestSaveDraft_GeneratesIDWhenMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.store.SaveDraft(ctx, SaveDraftRequest{Plan: &Plan{Rules: samplePlan("").Rules}})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, saved.ID, saved.Plan.ID)
	assert.True(t, saved.Plan.CreatedAt.Equal(f.clock.Now()))
}

func TestSaveDraft_ReplacesPriorDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SaveDraft(ctx, SaveDraftRequest{Plan: samplePlan("a")})
	require.NoError(t, err)
	_, err = f.store.SaveDraft(ctx, SaveDraftRequest{Plan: &Plan{ID: "b"}})
	require.NoError(t, err)

	got, err := f.store.GetDraft(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)
	assert.Empty(t, got.Plan.Rules)
}

func TestSaveDraft_RequiresPlan(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.SaveDraft(context.Background(), SaveDraftRequest{})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestGetDraft_EmptySlot(t *testing.T) {
	f := newFixture(t)
	got, err := f.store.GetDraft(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPromoteDraft_MintsNewIDAndClearsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SaveDraft(ctx, SaveDraftRequest{Plan: samplePlan("draft-1"), Description: "from draft", PromotedBy: "alice"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	promoted, err := f.store.Promote(ctx, PromoteRequest{PromotedBy: "bob"})
	require.NoError(t, err)
	assert.NotEqual(t, "draft-1", promoted.ID)
	assert.Equal(t, promoted.ID, promoted.Plan.ID)
	assert.Equal(t, "from draft", promoted.Description, "falls back to the draft's description")
	assert.Equal(t, "bob", promoted.PromotedBy)
	require.NotNil(t, promoted.PromotedAt)
	assert.True(t, promoted.PromotedAt.Equal(f.clock.Now()))

	active, err := f.store.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, promoted.ID, active.ID)

	draft, err := f.store.GetDraft(ctx)
	require.NoError(t, err)
	assert.Nil(t, draft)

	stored, err := f.store.GetVersion(ctx, promoted.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Plan.Rules, 3)
}

func TestPromoteDraft_NoDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.store.GetActive(ctx)
	require.NoError(t, err)

	_, err = f.store.Promote(ctx, PromoteRequest{})
	assert.ErrorIs(t, err, ErrNotFound)

	after, err := f.store.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
}

func TestPromoteExisting_KeepsDraftAndContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed, err := f.store.GetActive(ctx)
	require.NoError(t, err)

	_, err = f.store.SaveDraft(ctx, SaveDraftRequest{Plan: samplePlan("d")})
	require.NoError(t, err)
	first, err := f.store.Promote(ctx, PromoteRequest{})
	require.NoError(t, err)

	_, err = f.store.SaveDraft(ctx, SaveDraftRequest{Plan: samplePlan("pending")})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	promoted, err := f.store.Promote(ctx, PromoteRequest{VersionID: seed.ID, Description: "back to baseline", PromotedBy: "carol"})
	require.NoError(t, err)
	assert.Equal(t, seed.ID, promoted.ID)
	assert.Equal(t, "carol", promoted.PromotedBy)
	assert.Equal(t, "back to baseline", promoted.Description)

	draft, err := f.store.GetDraft(ctx)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, "pending", draft.ID)

	stored, err := f.store.GetVersion(ctx, seed.ID)
	require.NoError(t, err)
	assert.Equal(t, seed.Plan, stored.Plan)
	assert.Equal(t, seed.Description, stored.Description, "stored record is not rewritten")

	other, err := f.store.GetVersion(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, other.Plan.Rules, 3)
}

func TestPromoteExisting_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Promote(context.Background(), PromoteRequest{VersionID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed, err := f.store.GetActive(ctx)
	require.NoError(t, err)

	_, err = f.store.SaveDraft(ctx, SaveDraftRequest{Plan: samplePlan("d")})
	require.NoError(t, err)
	newer, err := f.store.Promote(ctx, PromoteRequest{})
	require.NoError(t, err)

	_, err = f.store.SaveDraft(ctx, SaveDraftRequest{Plan: samplePlan("pending")})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	rolled, err := f.store.Rollback(ctx, RollbackRequest{VersionID: seed.ID, PromotedBy: "dave"})
	require.NoError(t, err)
	assert.Equal(t, seed.ID, rolled.ID)
	assert.Equal(t, "dave", rolled.PromotedBy)

	active, err := f.store.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, seed.ID, active.ID)

	versions, err := f.store.ListVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 2, "rollback mints no version")

	stillThere, err := f.store.GetVersion(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, newer.Plan, stillThere.Plan)

	draft, err := f.store.GetDraft(ctx)
	require.NoError(t, err)
	require.NotNil(t, draft, "rollback keeps a pending draft")
}

func TestRollback_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Rollback(ctx, RollbackRequest{})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = f.store.Rollback(ctx, RollbackRequest{VersionID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListVersions_SortedByPlanCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed, err := f.store.GetActive(ctx)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.store.SaveDraft(ctx, SaveDraftRequest{Plan: &Plan{Rules: samplePlan("").Rules}})
	require.NoError(t, err)
	newest, err := f.store.Promote(ctx, PromoteRequest{})
	require.NoError(t, err)

	// Rolling back changes promotion time, not order.
	f.clock.Advance(time.Hour)
	_, err = f.store.Rollback(ctx, RollbackRequest{VersionID: seed.ID})
	require.NoError(t, err)

	versions, err := f.store.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, newest.ID, versions[0].ID)
	assert.Equal(t, seed.ID, versions[1].ID)
}

func TestGetVersion_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.GetVersion(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSimulate_AgainstActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SaveDraft(ctx, SaveDraftRequest{Plan: &Plan{Rules: []rule.Rule{
		{ID: "a", Body: rule.Cache{Path: "/img/*", TTL: 86400}},
	}}})
	require.NoError(t, err)
	base, err := f.store.Promote(ctx, PromoteRequest{})
	require.NoError(t, err)

	res, err := f.store.Simulate(ctx, SimulateRequest{Plan: &Plan{Rules: []rule.Rule{
		{ID: "b", Body: rule.Cache{Path: "/img/*", TTL: 604800}},
		{ID: "c", Body: rule.Header{Action: "add", Name: "X-Test"}},
	}}})
	require.NoError(t, err)
	assert.Equal(t, base.ID, res.BaselineVersionID)
	assert.Len(t, res.Added, 1)
	assert.Empty(t, res.Removed)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, "1 added, 1 changed", res.Summary)
	assert.Equal(t, 1, res.BaselineRules)
	assert.Equal(t, 2, res.ProposedRules)
}

func TestSimulate_AgainstNamedBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed, err := f.store.GetActive(ctx)
	require.NoError(t, err)

	res, err := f.store.Simulate(ctx, SimulateRequest{
		Plan:             &Plan{Rules: DefaultRules()},
		CurrentVersionID: seed.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, diff.NoChangesSummary, res.Summary)

	_, err = f.store.Simulate(ctx, SimulateRequest{Plan: &Plan{}, CurrentVersionID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.store.Simulate(ctx, SimulateRequest{})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestTokens_LifecycleAndLazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active, err := f.store.GetActive(ctx)
	require.NoError(t, err)

	zero := int64(0)
	expired, err := f.store.CreateToken(ctx, CreateTokenRequest{VersionID: active.ID, ExpiresInSeconds: &zero})
	require.NoError(t, err)
	require.NotNil(t, expired.ExpiresAt)

	hour := int64(3600)
	live, err := f.store.CreateToken(ctx, CreateTokenRequest{VersionID: active.ID, ExpiresInSeconds: &hour})
	require.NoError(t, err)

	forever, err := f.store.CreateToken(ctx, CreateTokenRequest{VersionID: active.ID})
	require.NoError(t, err)
	assert.Nil(t, forever.ExpiresAt)

	tokens, err := f.store.ListTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, tokens, 3, "expired tokens stay listed until resolved")

	_, err = f.store.ResolveToken(ctx, expired.Token)
	assert.ErrorIs(t, err, ErrExpired)

	_, err = f.store.ResolveToken(ctx, expired.Token)
	assert.ErrorIs(t, err, ErrNotFound, "expired token is deleted by the first resolve")

	tokens, err = f.store.ListTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, tokens, 2)

	res, err := f.store.ResolveToken(ctx, live.Token)
	require.NoError(t, err)
	assert.Equal(t, active.ID, res.Version.ID)

	f.clock.Advance(2 * time.Hour)
	_, err = f.store.ResolveToken(ctx, live.Token)
	assert.ErrorIs(t, err, ErrExpired)

	_, err = f.store.ResolveToken(ctx, forever.Token)
	assert.NoError(t, err)
}

func TestCreateToken_PastOffset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active, err := f.store.GetActive(ctx)
	require.NoError(t, err)

	past := int64(-60)
	tok, err := f.store.CreateToken(ctx, CreateTokenRequest{VersionID: active.ID, ExpiresInSeconds: &past})
	require.NoError(t, err)

	_, err = f.store.ResolveToken(ctx, tok.Token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestCreateToken_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.CreateToken(ctx, CreateTokenRequest{})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = f.store.CreateToken(ctx, CreateTokenRequest{VersionID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveToken_VersionMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.GetActive(ctx)
	require.NoError(t, err)

	// A token bound to a version that is not stored stays listable.
	require.NoError(t, f.backend.Set(ctx, prefixToken+"orphan", []byte(`{"token":"orphan","versionId":"gone","createdAt":"2026-03-01T12:00:00Z"}`)))

	tokens, err := f.store.ListTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, tokens, 1)

	_, err = f.store.ResolveToken(ctx, "orphan")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteToken_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.store.DeleteToken(ctx, "never-issued"))

	active, err := f.store.GetActive(ctx)
	require.NoError(t, err)
	tok, err := f.store.CreateToken(ctx, CreateTokenRequest{VersionID: active.ID})
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteToken(ctx, tok.Token))
	require.NoError(t, f.store.DeleteToken(ctx, tok.Token))

	tokens, err := f.store.ListTokens(ctx)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestCreateToken_ExpiryOutOfRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active, err := f.store.GetActive(ctx)
	require.NoError(t, err)

	for _, secs := range []int64{10_000_000_000, -10_000_000_000} {
		secs := secs
		_, err := f.store.CreateToken(ctx, CreateTokenRequest{VersionID: active.ID, ExpiresInSeconds: &secs})
		assert.ErrorIs(t, err, ErrBadRequest)
	}
	tokens, err := f.store.ListTokens(ctx)
	require.NoError(t, err)
	assert.Empty(t, tokens, "rejected before any write")

	longest := maxExpirySeconds
	tok, err := f.store.CreateToken(ctx, CreateTokenRequest{VersionID: active.ID, ExpiresInSeconds: &longest})
	require.NoError(t, err)
	require.NotNil(t, tok.ExpiresAt)
	assert.True(t, tok.ExpiresAt.After(tok.CreatedAt))

	_, err = f.store.ResolveToken(ctx, tok.Token)
	assert.NoError(t, err)
}

// shortKeyStore rejects keys longer than a SQL key column can hold.
type shortKeyStore struct {
	*kv.MemoryStore
}

func (s *shortKeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if len(key) > 255 {
		return nil, errors.New("key too long")
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *shortKeyStore) Delete(ctx context.Context, key string) error {
	if len(key) > 255 {
		return errors.New("key too long")
	}
	return s.MemoryStore.Delete(ctx, key)
}

func TestToken_OverlongNeverTouchesStorage(t *testing.T) {
	ctx := context.Background()
	s := NewStore(&shortKeyStore{MemoryStore: kv.NewMemoryStore()}, Options{})
	defer s.Close()

	long := strings.Repeat("t", 300)
	assert.NoError(t, s.DeleteToken(ctx, long))

	_, err := s.ResolveToken(ctx, long)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrigin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	origin, err := f.store.GetOrigin(ctx)
	require.NoError(t, err)
	assert.Nil(t, origin)

	set, err := f.store.SetOrigin(ctx, "  https://origin.example.com ", "alice")
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, "https://origin.example.com", *set)

	origin, err = f.store.GetOrigin(ctx)
	require.NoError(t, err)
	require.NotNil(t, origin)
	assert.Equal(t, "https://origin.example.com", *origin)

	for _, blank := range []string{"", "   "} {
		_, err := f.store.SetOrigin(ctx, "https://x.example.com", "")
		require.NoError(t, err)

		set, err := f.store.SetOrigin(ctx, blank, "")
		require.NoError(t, err)
		assert.Nil(t, set)

		origin, err := f.store.GetOrigin(ctx)
		require.NoError(t, err)
		assert.Nil(t, origin, "blank origin %q clears the override", blank)
	}

	_, err = f.store.SetOrigin(ctx, "https://y.example.com", "")
	require.NoError(t, err)
	require.NoError(t, f.store.ClearOrigin(ctx, ""))
	origin, err = f.store.GetOrigin(ctx)
	require.NoError(t, err)
	assert.Nil(t, origin)
}

func TestListHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SaveDraft(ctx, SaveDraftRequest{Plan: samplePlan("d"), PromotedBy: "alice"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.store.Promote(ctx, PromoteRequest{})
	require.NoError(t, err)

	items, total, err := f.store.ListHistory(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 3)
	assert.Equal(t, OpPromote, items[0].Operation)
	assert.Equal(t, "alice", items[0].Operator)
	assert.Equal(t, OpSaveDraft, items[1].Operation)
	assert.Equal(t, OpSeed, items[2].Operation)

	items, total, err = f.store.ListHistory(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)
	assert.Equal(t, OpSaveDraft, items[0].Operation)
}

// failingStore fails Set for keys listed in failOn.
type failingStore struct {
	*kv.MemoryStore
	failOn map[string]bool
}

func (f *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if f.failOn[key] {
		return errors.New("disk full")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func TestPromoteDraft_FailedWriteLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	backend := &failingStore{MemoryStore: kv.NewMemoryStore(), failOn: map[string]bool{}}
	s := NewStore(backend, Options{NewID: sequence("v")})
	defer s.Close()

	seed, err := s.GetActive(ctx)
	require.NoError(t, err)
	_, err = s.SaveDraft(ctx, SaveDraftRequest{Plan: samplePlan("d")})
	require.NoError(t, err)

	backend.failOn[keyActive] = true
	_, err = s.Promote(ctx, PromoteRequest{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	backend.failOn[keyActive] = false
	active, err := s.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, seed.ID, active.ID)

	versions, err := s.ListVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 1, "the half-written version is removed")

	draft, err := s.GetDraft(ctx)
	require.NoError(t, err)
	assert.NotNil(t, draft)
}

func TestStore_SerializesConcurrentOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.store.SaveDraft(ctx, SaveDraftRequest{Plan: &Plan{ID: fmt.Sprintf("d%d", i)}})
			assert.NoError(t, err)
			_, err = f.store.Promote(ctx, PromoteRequest{})
			// Another goroutine may have promoted the draft first.
			if err != nil {
				assert.ErrorIs(t, err, ErrNotFound)
			}
		}(i)
	}
	wg.Wait()

	versions, err := f.store.ListVersions(ctx)
	require.NoError(t, err)
	active, err := f.store.GetActive(ctx)
	require.NoError(t, err)

	found := false
	for _, v := range versions {
		if v.ID == active.ID {
			found = true
		}
	}
	assert.True(t, found, "active always points at a stored version")
}

func TestStore_Closed(t *testing.T) {
	s := NewStore(kv.NewMemoryStore(), Options{})
	s.Close()
	s.Close()

	_, err := s.GetActive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_CancelledBeforeAccepted(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The actor may still accept the job if it is idle; either outcome is valid
	// but a cancelled caller never observes a partial result.
	_, err := f.store.GetActive(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestSeedRulesOverride(t *testing.T) {
	seed := []rule.Rule{rule.New("only", rule.Banner{Message: "hello"})}
	s := NewStore(kv.NewMemoryStore(), Options{SeedRules: seed})
	defer s.Close()

	active, err := s.GetActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active.Plan.Rules, 1)
	assert.Equal(t, "only", active.Plan.Rules[0].ID)
}
