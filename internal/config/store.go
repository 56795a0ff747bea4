package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sunshine-walker-93/edge_config_admin/internal/diff"
	"github.com/sunshine-walker-93/edge_config_admin/internal/kv"
	"github.com/sunshine-walker-93/edge_config_admin/internal/metrics"
	"github.com/sunshine-walker-93/edge_config_admin/internal/rule"
)

// Storage keys
const (
	keyActive        = "active"
	keyDraft         = "draft"
	keyOrigin        = "origin"
	prefixVersion    = "version:"
	prefixToken      = "token:"
	prefixHistory    = "history:"
	defaultNamespace = "default"
)

const (
	// maxExpirySeconds keeps expiresInSeconds representable as a time.Duration.
	maxExpirySeconds = math.MaxInt64 / int64(time.Second)

	// maxTokenLen bounds any token this store issues.
	maxTokenLen = 128
)

// Options configures a Store. Zero values select production defaults.
type Options struct {
	Namespace string
	Logger    *zap.Logger
	Now       func() time.Time
	NewID     func() string
	NewToken  func() string

	// SeedRules replaces DefaultRules as the plan written to an empty
	// namespace.
	SeedRules []rule.Rule
}

// Store is the versioned configuration store for one namespace. Every
// operation is executed by a single goroutine, one at a time in arrival
// order, so multi-key writes are never observed half done.
type Store struct {
	namespace string
	kv        kv.Store
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
	newToken  func() string
	seedRules []rule.Rule

	mailbox   chan func()
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Owned by the actor goroutine.
	seeded     bool
	historySeq uint64
}

// NewStore starts a store over backend. Call Close to stop it.
func NewStore(backend kv.Store, opts Options) *Store {
	s := &Store{
		namespace: opts.Namespace,
		kv:        backend,
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
		newToken:  opts.NewToken,
		seedRules: opts.SeedRules,
		mailbox:   make(chan func()),
		quit:      make(chan struct{}),
	}
	if s.namespace == "" {
		s.namespace = defaultNamespace
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.With(zap.String("namespace", s.namespace))
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.newToken == nil {
		s.newToken = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	}
	if s.seedRules == nil {
		s.seedRules = DefaultRules()
	}

	s.wg.Add(1)
	go s.run()
	return s
}

// Namespace returns the namespace this store serves.
func (s *Store) Namespace() string {
	return s.namespace
}

// Close stops the actor. Operations submitted afterwards fail with ErrClosed.
// It does not close the backend.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	s.wg.Wait()
}

func (s *Store) run() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.mailbox:
			job()
		case <-s.quit:
			return
		}
	}
}

type outcome[T any] struct {
	val T
	err error
}

// call hands fn to the actor and waits for its result. The caller's context
// only bounds the wait to be accepted; an accepted operation runs to completion.
func call[T any](ctx context.Context, s *Store, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	done := make(chan outcome[T], 1)
	job := func() {
		opCtx := context.WithoutCancel(ctx)
		if err := s.ensureSeeded(opCtx); err != nil {
			done <- outcome[T]{err: err}
			return
		}
		v, err := fn(opCtx)
		done <- outcome[T]{val: v, err: err}
	}

	select {
	case s.mailbox <- job:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.quit:
		return zero, ErrClosed
	}

	out := <-done
	metrics.ObserveStoreOp(s.namespace, op, out.err, classify)
	if out.err != nil && !isClientError(out.err) {
		s.logger.Error("store operation failed", zap.String("op", op), zap.Error(out.err))
	}
	return out.val, out.err
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrExpired):
		return "expired"
	}
	return "internal"
}

func isClientError(err error) bool {
	return classify(err) != "internal"
}

// ensureSeeded writes the default plan as the active version the first time
// a namespace without an active version is touched.
func (s *Store) ensureSeeded(ctx context.Context) error {
	if s.seeded {
		return nil
	}

	_, err := s.kv.Get(ctx, keyActive)
	if err == nil {
		s.seeded = true
		return nil
	}
	if !errors.Is(err, kv.ErrKeyNotFound) {
		return fmt.Errorf("read active: %w", err)
	}

	now := s.now()
	id := s.newID()
	v := Version{
		ID:          id,
		Plan:        Plan{ID: id, Rules: s.seedRules, CreatedAt: now},
		Description: defaultDescription,
		PromotedBy:  SystemOperator,
		PromotedAt:  &now,
	}
	if err := s.putJSON(ctx, prefixVersion+id, v); err != nil {
		return fmt.Errorf("seed version: %w", err)
	}
	if err := s.putJSON(ctx, keyActive, v); err != nil {
		return fmt.Errorf("seed active: %w", err)
	}

	s.seeded = true
	s.logger.Info("seeded default configuration", zap.String("version_id", id))
	s.recordHistory(ctx, OpSeed, id, SystemOperator, "")
	return nil
}

// GetActive returns the active version.
func (s *Store) GetActive(ctx context.Context) (Version, error) {
	return call(ctx, s, "getActive", s.active)
}

func (s *Store) active(ctx context.Context) (Version, error) {
	var v Version
	if err := s.getJSON(ctx, keyActive, &v); err != nil {
		return Version{}, fmt.Errorf("read active: %w", err)
	}
	return v, nil
}

// GetDraft returns the draft, or nil when the slot is empty.
func (s *Store) GetDraft(ctx context.Context) (*Version, error) {
	return call(ctx, s, "getDraft", s.draft)
}

func (s *Store) draft(ctx context.Context) (*Version, error) {
	var v Version
	err := s.getJSON(ctx, keyDraft, &v)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read draft: %w", err)
	}
	return &v, nil
}

// SaveDraft replaces the draft slot with req.Plan. A plan without an id gets a
// fresh id and creation time. Rule content is stored as given.
func (s *Store) SaveDraft(ctx context.Context, req SaveDraftRequest) (Version, error) {
	if req.Plan == nil {
		return Version{}, fmt.Errorf("%w: plan is required", ErrBadRequest)
	}

	return call(ctx, s, "saveDraft", func(ctx context.Context) (Version, error) {
		plan := *req.Plan
		if plan.ID == "" {
			plan.ID = s.newID()
			plan.CreatedAt = s.now()
		} else if plan.CreatedAt.IsZero() {
			plan.CreatedAt = s.now()
		}
		if plan.Rules == nil {
			plan.Rules = []rule.Rule{}
		}

		draft := Version{
			ID:          plan.ID,
			Plan:        plan,
			Description: req.Description,
			PromotedBy:  req.PromotedBy,
		}
		if err := s.putJSON(ctx, keyDraft, draft); err != nil {
			return Version{}, fmt.Errorf("write draft: %w", err)
		}

		s.logger.Info("draft saved", zap.String("plan_id", plan.ID), zap.Int("rules", len(plan.Rules)))
		s.recordHistory(ctx, OpSaveDraft, plan.ID, req.PromotedBy, fmt.Sprintf("%d rules", len(plan.Rules)))
		return draft, nil
	})
}

// DiscardDraft empties the draft slot. Discarding an empty slot succeeds.
func (s *Store) DiscardDraft(ctx context.Context) error {
	_, err := call(ctx, s, "discardDraft", func(ctx context.Context) (struct{}, error) {
		if err := s.kv.Delete(ctx, keyDraft); err != nil {
			return struct{}{}, fmt.Errorf("delete draft: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

// Promote makes a version active. With req.VersionID set the stored version
// is activated and the draft is left alone; otherwise the draft is promoted
// under a newly minted id and the draft slot is emptied.
func (s *Store) Promote(ctx context.Context, req PromoteRequest) (Version, error) {
	return call(ctx, s, "promote", func(ctx context.Context) (Version, error) {
		if req.VersionID != "" {
			return s.promoteExisting(ctx, req)
		}
		return s.promoteDraft(ctx, req)
	})
}

func (s *Store) promoteExisting(ctx context.Context, req PromoteRequest) (Version, error) {
	v, err := s.version(ctx, req.VersionID)
	if err != nil {
		return Version{}, err
	}

	now := s.now()
	v.PromotedAt = &now
	if req.PromotedBy != "" {
		v.PromotedBy = req.PromotedBy
	}
	if req.Description != "" {
		v.Description = req.Description
	}

	if err := s.putJSON(ctx, keyActive, v); err != nil {
		return Version{}, fmt.Errorf("write active: %w", err)
	}

	s.logger.Info("version promoted", zap.String("version_id", v.ID), zap.String("promoted_by", v.PromotedBy))
	s.recordHistory(ctx, OpPromote, v.ID, v.PromotedBy, "existing version")
	return v, nil
}

func (s *Store) promoteDraft(ctx context.Context, req PromoteRequest) (Version, error) {
	draft, err := s.draft(ctx)
	if err != nil {
		return Version{}, err
	}
	if draft == nil {
		return Version{}, fmt.Errorf("%w: no draft to promote", ErrNotFound)
	}

	prevActive, err := s.kv.Get(ctx, keyActive)
	if err != nil {
		return Version{}, fmt.Errorf("read active: %w", err)
	}

	now := s.now()
	id := s.newID()
	v := Version{
		ID:          id,
		Plan:        Plan{ID: id, Rules: draft.Plan.Rules, CreatedAt: draft.Plan.CreatedAt},
		Description: firstNonEmpty(req.Description, draft.Description),
		PromotedBy:  firstNonEmpty(req.PromotedBy, draft.PromotedBy),
		PromotedAt:  &now,
	}

	// Write version, then active, then clear the draft. Undo earlier writes
	// if a later one fails so a failed promote leaves no trace.
	if err := s.putJSON(ctx, prefixVersion+id, v); err != nil {
		return Version{}, fmt.Errorf("write version: %w", err)
	}
	if err := s.putJSON(ctx, keyActive, v); err != nil {
		s.undo(ctx, prefixVersion+id, nil)
		return Version{}, fmt.Errorf("write active: %w", err)
	}
	if err := s.kv.Delete(ctx, keyDraft); err != nil {
		s.undo(ctx, keyActive, prevActive)
		s.undo(ctx, prefixVersion+id, nil)
		return Version{}, fmt.Errorf("delete draft: %w", err)
	}

	s.logger.Info("draft promoted",
		zap.String("draft_id", draft.ID),
		zap.String("version_id", id),
		zap.String("promoted_by", v.PromotedBy),
	)
	s.recordHistory(ctx, OpPromote, id, v.PromotedBy, "from draft "+draft.ID)
	return v, nil
}

// undo restores key to prev, deleting it when prev is nil.
func (s *Store) undo(ctx context.Context, key string, prev []byte) {
	var err error
	if prev == nil {
		err = s.kv.Delete(ctx, key)
	} else {
		err = s.kv.Set(ctx, key, prev)
	}
	if err != nil {
		s.logger.Error("failed to undo partial write", zap.String("key", key), zap.Error(err))
	}
}

// Rollback re-activates a stored version without minting a new id. Any
// pending draft is kept.
func (s *Store) Rollback(ctx context.Context, req RollbackRequest) (Version, error) {
	if req.VersionID == "" {
		return Version{}, fmt.Errorf("%w: versionId is required", ErrBadRequest)
	}

	return call(ctx, s, "rollback", func(ctx context.Context) (Version, error) {
		v, err := s.version(ctx, req.VersionID)
		if err != nil {
			return Version{}, err
		}

		now := s.now()
		v.PromotedAt = &now
		if req.PromotedBy != "" {
			v.PromotedBy = req.PromotedBy
		}

		if err := s.putJSON(ctx, keyActive, v); err != nil {
			return Version{}, fmt.Errorf("write active: %w", err)
		}

		s.logger.Info("rolled back", zap.String("version_id", v.ID), zap.String("promoted_by", v.PromotedBy))
		s.recordHistory(ctx, OpRollback, v.ID, req.PromotedBy, "")
		return v, nil
	})
}

// ListVersions returns every stored version, newest plan first. Stamps are
// those written when each version was first stored; see GetVersion.
func (s *Store) ListVersions(ctx context.Context) ([]Version, error) {
	return call(ctx, s, "listVersions", func(ctx context.Context) ([]Version, error) {
		pairs, err := s.kv.List(ctx, prefixVersion)
		if err != nil {
			return nil, fmt.Errorf("list versions: %w", err)
		}

		versions := make([]Version, 0, len(pairs))
		for _, p := range pairs {
			var v Version
			if err := json.Unmarshal(p.Value, &v); err != nil {
				s.logger.Warn("skipping unreadable version", zap.String("key", p.Key), zap.Error(err))
				continue
			}
			versions = append(versions, v)
		}

		sort.SliceStable(versions, func(i, j int) bool {
			return versions[i].Plan.CreatedAt.After(versions[j].Plan.CreatedAt)
		})
		return versions, nil
	})
}

// GetVersion returns the stored version with the given id. Promote and
// rollback stamp only the active record, so the latest promotedAt and
// description of a re-activated version are on GetActive, not here.
func (s *Store) GetVersion(ctx context.Context, id string) (Version, error) {
	return call(ctx, s, "getVersion", func(ctx context.Context) (Version, error) {
		return s.version(ctx, id)
	})
}

func (s *Store) version(ctx context.Context, id string) (Version, error) {
	if id == "" {
		return Version{}, fmt.Errorf("%w: version id is required", ErrBadRequest)
	}
	var v Version
	err := s.getJSON(ctx, prefixVersion+id, &v)
	if errors.Is(err, ErrNotFound) {
		return Version{}, fmt.Errorf("%w: version %s", ErrNotFound, id)
	}
	if err != nil {
		return Version{}, fmt.Errorf("read version %s: %w", id, err)
	}
	return v, nil
}

// Simulate diffs req.Plan against the given baseline version, or the active
// version when none is named.
func (s *Store) Simulate(ctx context.Context, req SimulateRequest) (SimulationResult, error) {
	if req.Plan == nil {
		return SimulationResult{}, fmt.Errorf("%w: plan is required", ErrBadRequest)
	}

	return call(ctx, s, "simulate", func(ctx context.Context) (SimulationResult, error) {
		var (
			baseline Version
			err      error
		)
		if req.CurrentVersionID != "" {
			baseline, err = s.version(ctx, req.CurrentVersionID)
		} else {
			baseline, err = s.active(ctx)
		}
		if err != nil {
			return SimulationResult{}, err
		}

		res, err := diff.Compute(baseline.Plan.Rules, req.Plan.Rules)
		if err != nil {
			return SimulationResult{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}

		return SimulationResult{
			Result:            res,
			BaselineVersionID: baseline.ID,
			BaselineRules:     len(baseline.Plan.Rules),
			ProposedRules:     len(req.Plan.Rules),
		}, nil
	})
}

// CreateToken issues a preview token for an existing version. A non-nil
// expiresInSeconds sets the expiry relative to now; zero or negative values
// yield a token that is already expired.
func (s *Store) CreateToken(ctx context.Context, req CreateTokenRequest) (PreviewToken, error) {
	if req.VersionID == "" {
		return PreviewToken{}, fmt.Errorf("%w: versionId is required", ErrBadRequest)
	}

	if req.ExpiresInSeconds != nil && (*req.ExpiresInSeconds > maxExpirySeconds || *req.ExpiresInSeconds < -maxExpirySeconds) {
		return PreviewToken{}, fmt.Errorf("%w: expiresInSeconds must be between -%d and %d", ErrBadRequest, maxExpirySeconds, maxExpirySeconds)
	}

	return call(ctx, s, "createToken", func(ctx context.Context) (PreviewToken, error) {
		if _, err := s.version(ctx, req.VersionID); err != nil {
			return PreviewToken{}, err
		}

		now := s.now()
		t := PreviewToken{
			Token:     s.newToken(),
			VersionID: req.VersionID,
			CreatedAt: now,
		}
		if req.ExpiresInSeconds != nil {
			exp := now.Add(time.Duration(*req.ExpiresInSeconds) * time.Second)
			t.ExpiresAt = &exp
		}

		if err := s.putJSON(ctx, prefixToken+t.Token, t); err != nil {
			return PreviewToken{}, fmt.Errorf("write token: %w", err)
		}

		s.logger.Info("preview token created", zap.String("version_id", t.VersionID))
		s.recordHistory(ctx, OpCreateToken, t.VersionID, "", "")
		return t, nil
	})
}

// DeleteToken removes a token. Deleting an unknown token succeeds.
func (s *Store) DeleteToken(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrBadRequest)
	}

	if len(token) > maxTokenLen {
		return nil
	}

	_, err := call(ctx, s, "deleteToken", func(ctx context.Context) (struct{}, error) {
		if err := s.kv.Delete(ctx, prefixToken+token); err != nil {
			return struct{}{}, fmt.Errorf("delete token: %w", err)
		}
		s.recordHistory(ctx, OpDeleteToken, "", "", "")
		return struct{}{}, nil
	})
	return err
}

// ListTokens returns every stored token, newest first. Expired tokens stay
// listed until someone tries to resolve them.
func (s *Store) ListTokens(ctx context.Context) ([]PreviewToken, error) {
	return call(ctx, s, "listTokens", func(ctx context.Context) ([]PreviewToken, error) {
		pairs, err := s.kv.List(ctx, prefixToken)
		if err != nil {
			return nil, fmt.Errorf("list tokens: %w", err)
		}

		tokens := make([]PreviewToken, 0, len(pairs))
		for _, p := range pairs {
			var t PreviewToken
			if err := json.Unmarshal(p.Value, &t); err != nil {
				s.logger.Warn("skipping unreadable token", zap.String("key", p.Key), zap.Error(err))
				continue
			}
			tokens = append(tokens, t)
		}

		sort.SliceStable(tokens, func(i, j int) bool {
			return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
		})
		return tokens, nil
	})
}

// Resolution is a token together with the version it grants access to.
type Resolution struct {
	Token   PreviewToken
	Version Version
}

// ResolveToken looks up a token and its version. An expired token is deleted
// and reported as ErrExpired.
func (s *Store) ResolveToken(ctx context.Context, token string) (Resolution, error) {
	if token == "" || len(token) > maxTokenLen {
		return Resolution{}, fmt.Errorf("%w: token", ErrNotFound)
	}

	return call(ctx, s, "resolveToken", func(ctx context.Context) (Resolution, error) {
		var t PreviewToken
		err := s.getJSON(ctx, prefixToken+token, &t)
		if errors.Is(err, ErrNotFound) {
			return Resolution{}, fmt.Errorf("%w: token", ErrNotFound)
		}
		if err != nil {
			return Resolution{}, fmt.Errorf("read token: %w", err)
		}

		if t.Expired(s.now()) {
			if err := s.kv.Delete(ctx, prefixToken+token); err != nil {
				return Resolution{}, fmt.Errorf("delete expired token: %w", err)
			}
			s.logger.Info("preview token expired", zap.String("version_id", t.VersionID))
			s.recordHistory(ctx, OpExpireToken, t.VersionID, "", "")
			return Resolution{}, fmt.Errorf("%w: token", ErrExpired)
		}

		v, err := s.version(ctx, t.VersionID)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Token: t, Version: v}, nil
	})
}

// GetOrigin returns the origin override, or nil when none is configured.
func (s *Store) GetOrigin(ctx context.Context) (*string, error) {
	return call(ctx, s, "getOrigin", func(ctx context.Context) (*string, error) {
		var origin string
		err := s.getJSON(ctx, keyOrigin, &origin)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read origin: %w", err)
		}
		return &origin, nil
	})
}

// SetOrigin stores the origin override. A blank value clears it.
func (s *Store) SetOrigin(ctx context.Context, origin, operator string) (*string, error) {
	origin = strings.TrimSpace(origin)

	return call(ctx, s, "setOrigin", func(ctx context.Context) (*string, error) {
		if origin == "" {
			return nil, s.clearOrigin(ctx, operator)
		}
		if err := s.putJSON(ctx, keyOrigin, origin); err != nil {
			return nil, fmt.Errorf("write origin: %w", err)
		}
		s.recordHistory(ctx, OpSetOrigin, "", operator, origin)
		return &origin, nil
	})
}

// ClearOrigin removes the origin override.
func (s *Store) ClearOrigin(ctx context.Context, operator string) error {
	_, err := call(ctx, s, "clearOrigin", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.clearOrigin(ctx, operator)
	})
	return err
}

func (s *Store) clearOrigin(ctx context.Context, operator string) error {
	if err := s.kv.Delete(ctx, keyOrigin); err != nil {
		return fmt.Errorf("delete origin: %w", err)
	}
	s.recordHistory(ctx, OpClearOrigin, "", operator, "")
	return nil
}

// ListHistory returns history entries newest first, paginated, with the
// total number of entries.
func (s *Store) ListHistory(ctx context.Context, limit, offset int) ([]HistoryEntry, int, error) {
	type page struct {
		items []HistoryEntry
		total int
	}

	p, err := call(ctx, s, "listHistory", func(ctx context.Context) (page, error) {
		pairs, err := s.kv.List(ctx, prefixHistory)
		if err != nil {
			return page{}, fmt.Errorf("list history: %w", err)
		}

		total := len(pairs)
		if limit <= 0 {
			limit = total
		}
		if offset < 0 {
			offset = 0
		}
		items := []HistoryEntry{}
		// Keys sort oldest first; walk backwards.
		for i := total - 1 - offset; i >= 0 && len(items) < limit; i-- {
			var h HistoryEntry
			if err := json.Unmarshal(pairs[i].Value, &h); err != nil {
				s.logger.Warn("skipping unreadable history entry", zap.String("key", pairs[i].Key), zap.Error(err))
				continue
			}
			items = append(items, h)
		}
		return page{items: items, total: total}, nil
	})
	return p.items, p.total, err
}

// recordHistory appends a history entry. Failures are logged, never returned.
func (s *Store) recordHistory(ctx context.Context, operation, versionID, operator, detail string) {
	now := s.now()
	s.historySeq++
	id := fmt.Sprintf("%020d-%06d", now.UnixNano(), s.historySeq%1000000)

	entry := HistoryEntry{
		ID:        id,
		Operation: operation,
		VersionID: versionID,
		Operator:  operator,
		Detail:    detail,
		CreatedAt: now,
	}
	if err := s.putJSON(ctx, prefixHistory+id, entry); err != nil {
		s.logger.Warn("failed to record history", zap.String("operation", operation), zap.Error(err))
	}
}

func (s *Store) getJSON(ctx context.Context, key string, out interface{}) error {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
