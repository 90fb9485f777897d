// Package reconciler folds partial, out-of-order call events into one durable
// call record per (workspace, external call id).
package reconciler

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
	"github.com/denkuservices/denku-mvp-sub000/pkg/utils"
)

// Reconciler applies event patches to call records through an atomic upsert.
type Reconciler struct {
	repo storage.CallRepo
}

func New(repo storage.CallRepo) *Reconciler {
	return &Reconciler{repo: repo}
}

// Reconcile merges patch into the record for (workspaceID, callID), creating
// it on first observation. created is true only for the delivery that
// inserted the row.
func (r *Reconciler) Reconcile(ctx context.Context, workspaceID, callID string, patch model.CallPatch) (*model.CallRecord, bool, error) {
	rec, created, err := r.repo.Upsert(ctx, workspaceID, callID, func(current *model.CallRecord) *model.CallRecord {
		next := Merge(current, patch)
		return &next
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		logger.FromContext(ctx).Debug("Call record created", zap.String("record_id", rec.ID))
	}
	return rec, created, nil
}

// Finalize applies the terminal patch with the same merge policy and fills
// an unset intent with "other". Repeating it yields the same record.
func (r *Reconciler) Finalize(ctx context.Context, workspaceID, callID string, final model.CallPatch) (*model.CallRecord, error) {
	rec, _, err := r.repo.Upsert(ctx, workspaceID, callID, func(current *model.CallRecord) *model.CallRecord {
		next := MergeFinal(current, final)
		return &next
	})
	return rec, err
}

// MergeFinal is Merge followed by the finalize normalization.
func MergeFinal(existing *model.CallRecord, patch model.CallPatch) model.CallRecord {
	next := Merge(existing, patch)
	if next.Intent == nil {
		other := model.IntentOther
		next.Intent = &other
	}
	return next
}

// Merge returns existing with patch applied. It never mutates existing.
//
// Scalars are overwritten only when present in the patch. Cost and
// transcript never regress, tool_invoked never clears, user_turns keeps the
// maximum, and intent/persona are written once.
func Merge(existing *model.CallRecord, patch model.CallPatch) model.CallRecord {
	var next model.CallRecord
	if existing != nil {
		next = *existing
	}

	if patch.AgentID != nil && *patch.AgentID != "" {
		next.AgentID = *patch.AgentID
	}
	if patch.Direction != nil && *patch.Direction != "" {
		next.Direction = *patch.Direction
	}
	if next.Direction == "" {
		next.Direction = model.DirectionUnknown
	}
	if present(patch.FromPhone) {
		next.FromPhone = strPtr(*patch.FromPhone)
	}
	if present(patch.ToPhone) {
		next.ToPhone = strPtr(*patch.ToPhone)
	}
	if patch.StartedAt != nil {
		next.StartedAt = timePtr(*patch.StartedAt)
	}
	if patch.EndedAt != nil {
		next.EndedAt = timePtr(*patch.EndedAt)
	}

	switch {
	case patch.DurationSeconds != nil && *patch.DurationSeconds >= 0:
		next.DurationSeconds = *patch.DurationSeconds
	case next.DurationSeconds == 0 && next.StartedAt != nil && next.EndedAt != nil:
		next.DurationSeconds = DeriveDuration(*next.StartedAt, *next.EndedAt)
	}

	next.Cost = mergeCost(next.Cost, patch.Cost)

	if patch.Transcript != nil && strings.TrimSpace(*patch.Transcript) != "" {
		next.Transcript = strPtr(*patch.Transcript)
	}

	if patch.Status != nil && *patch.Status != "" {
		next.Status = *patch.Status
	}
	if patch.Outcome != nil && *patch.Outcome != "" {
		next.Outcome = *patch.Outcome
	}

	if next.Intent == nil && patch.Intent != nil {
		intent := *patch.Intent
		next.Intent = &intent
		if patch.IntentConfidence != nil {
			next.IntentConfidence = clamp01(*patch.IntentConfidence)
		}
	}
	if next.PersonaKey == nil && present(patch.PersonaKey) {
		next.PersonaKey = strPtr(*patch.PersonaKey)
	}

	if patch.CompletionState != nil {
		state := *patch.CompletionState
		next.CompletionState = &state
	}
	if patch.UserTurns != nil && *patch.UserTurns > next.UserTurns {
		next.UserTurns = *patch.UserTurns
	}
	if patch.ToolInvoked != nil && *patch.ToolInvoked {
		next.ToolInvoked = true
	}
	if patch.AgentLastUtterance != nil && strings.TrimSpace(*patch.AgentLastUtterance) != "" {
		next.AgentLastUtterance = *patch.AgentLastUtterance
	}

	if next.TerminalAt == nil && patch.TerminalAt != nil {
		next.TerminalAt = timePtr(*patch.TerminalAt)
	}

	switch {
	case patch.ClearLease:
		next.LeaseID = nil
	case present(patch.LeaseID):
		next.LeaseID = strPtr(*patch.LeaseID)
	}

	next.Metadata = mergeMetadata(next.Metadata, patch.Metadata)
	return next
}

// mergeCost writes a positive incoming cost, or seeds an unset cost with any
// valid non-negative value. A zero or negative cost never replaces a known one.
func mergeCost(current, incoming *float64) *float64 {
	if incoming == nil {
		return current
	}
	v := *incoming
	if v > 0 || (current == nil && v >= 0) {
		return &v
	}
	return current
}

func mergeMetadata(existing datatypes.JSON, incoming map[string]interface{}) datatypes.JSON {
	if len(incoming) == 0 {
		return existing
	}
	raw, err := json.Marshal(incoming)
	if err != nil {
		logger.Log.Warn("Dropping unmarshalable call metadata", zap.Error(err))
		return existing
	}
	merged, err := utils.DeepMergeJSON(existing, raw)
	if err != nil {
		// Existing metadata is not an object; the incoming document replaces it.
		return datatypes.JSON(raw)
	}
	return datatypes.JSON(merged)
}

// DeriveDuration returns whole seconds between start and end, never negative.
func DeriveDuration(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d.Round(time.Second) / time.Second)
}

func present(s *string) bool { return s != nil && strings.TrimSpace(*s) != "" }

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
