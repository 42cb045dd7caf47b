package automation

import (
	"context"
	"sync"

	"foreman/internal/errors"
)

// Well-known action types.
const (
	ActionCreateTask         = "create_task"
	ActionAssignTask         = "assign_task"
	ActionUpdateStatus       = "update_status"
	ActionAddComment         = "add_comment"
	ActionDecomposeTask      = "decompose_task"
	ActionUnblockTask        = "unblock_task"
	ActionNotifyUser         = "notify_user"
	ActionAnalyzeAndComplete = "analyze_and_complete"
	ActionSmartAssign        = "smart_assign"
)

// ActionExecutor performs a single named action against the workspace.
type ActionExecutor interface {
	ExecuteAction(ctx context.Context, actionType string, params map[string]any) (map[string]any, error)
}

// ActionFunc implements one action type.
type ActionFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// ActionRegistry dispatches action types to registered funcs.
type ActionRegistry struct {
	mu    sync.RWMutex
	funcs map[string]ActionFunc
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{funcs: make(map[string]ActionFunc)}
}

// Register binds an action type to its implementation, replacing any previous
// binding.
func (r *ActionRegistry) Register(actionType string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[actionType] = fn
}

// Types returns the registered action types.
func (r *ActionRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for t := range r.funcs {
		out = append(out, t)
	}
	return out
}

func (r *ActionRegistry) ExecuteAction(ctx context.Context, actionType string, params map[string]any) (map[string]any, error) {
	r.mu.RLock()
	fn, ok := r.funcs[actionType]
	r.mu.RUnlock()
	if !ok {
		return nil, &errors.NotFoundError{Kind: "action", Name: actionType}
	}
	return fn(ctx, params)
}
