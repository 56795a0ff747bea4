package config

import (
	"time"

	"github.com/sunshine-walker-93/edge_config_admin/internal/diff"
	"github.com/sunshine-walker-93/edge_config_admin/internal/rule"
)

// Plan is an ordered rule set with an identity and creation time.
type Plan struct {
	ID        string      `json:"id"`
	Rules     []rule.Rule `json:"rules"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Version is a plan wrapped with promotion metadata. Its ID is the plan's ID.
// Drafts share this shape but never carry PromotedAt.
type Version struct {
	ID          string     `json:"id"`
	Plan        Plan       `json:"plan"`
	Description string     `json:"description,omitempty"`
	PromotedBy  string     `json:"promotedBy,omitempty"`
	PromotedAt  *time.Time `json:"promotedAt,omitempty"`
}

// PreviewToken grants read-only access to one version's rendered plan.
type PreviewToken struct {
	Token     string     `json:"token"`
	VersionID string     `json:"versionId"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the token is past its expiry at now.
func (t PreviewToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// HistoryEntry records one mutating operation on a namespace.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"` // "SAVE_DRAFT", "PROMOTE", "ROLLBACK", ...
	VersionID string    `json:"versionId,omitempty"`
	Operator  string    `json:"operator,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// History operations
const (
	OpSaveDraft   = "SAVE_DRAFT"
	OpPromote     = "PROMOTE"
	OpRollback    = "ROLLBACK"
	OpCreateToken = "CREATE_TOKEN"
	OpDeleteToken = "DELETE_TOKEN"
	OpExpireToken = "EXPIRE_TOKEN"
	OpSetOrigin   = "SET_ORIGIN"
	OpClearOrigin = "CLEAR_ORIGIN"
	OpSeed        = "SEED"
)

// SaveDraftRequest replaces the draft slot.
type SaveDraftRequest struct {
	Plan        *Plan  `json:"plan" validate:"required"`
	Description string `json:"description,omitempty"`
	PromotedBy  string `json:"promotedBy,omitempty"`
}

// PromoteRequest promotes a stored version when VersionID is set, otherwise
// the current draft.
type PromoteRequest struct {
	VersionID   string `json:"versionId,omitempty"`
	Description string `json:"description,omitempty"`
	PromotedBy  string `json:"promotedBy,omitempty"`
}

// RollbackRequest re-activates a stored version.
type RollbackRequest struct {
	VersionID  string `json:"versionId" validate:"required"`
	PromotedBy string `json:"promotedBy,omitempty"`
}

// CreateTokenRequest issues a preview token for a version.
type CreateTokenRequest struct {
	VersionID        string `json:"versionId" validate:"required"`
	ExpiresInSeconds *int64 `json:"expiresInSeconds,omitempty"`
}

// SimulateRequest compares a proposed plan against a baseline version, the
// active one when CurrentVersionID is empty.
type SimulateRequest struct {
	Plan             *Plan  `json:"plan" validate:"required"`
	CurrentVersionID string `json:"currentVersionId,omitempty"`
}

// SimulationResult is a diff of a proposal against its baseline.
type SimulationResult struct {
	diff.Result
	BaselineVersionID string `json:"baselineVersionId"`
	BaselineRules     int    `json:"baselineRules"`
	ProposedRules     int    `json:"proposedRules"`
}
