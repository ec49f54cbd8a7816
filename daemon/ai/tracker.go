package ai

import "sync"

// Tracker accumulates token usage per model and in total, compared against
// a configurable rolling-window budget. It is consulted by
// callers (the admin facade's usage-stats endpoint, the selector's cost
// strategy) but never enforces budget itself; enforcement happens via
// Manager.SetEnabled flips driven by whoever reads the tracker.
type Tracker struct {
	mu         sync.Mutex
	perModel   map[string]Usage
	total      Usage
	windowCost float64
	budget     float64
}

// NewTracker builds a Tracker with the given total budget (0 = unlimited).
func NewTracker(budget float64) *Tracker {
	return &Tracker{perModel: make(map[string]Usage), budget: budget}
}

// Record adds usage for model to both the per-model and total counters.
func (t *Tracker) Record(model string, u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	agg := t.perModel[model]
	agg.PromptTokens += u.PromptTokens
	agg.CompletionTokens += u.CompletionTokens
	agg.TotalTokens += u.TotalTokens
	t.perModel[model] = agg

	t.total.PromptTokens += u.PromptTokens
	t.total.CompletionTokens += u.CompletionTokens
	t.total.TotalTokens += u.TotalTokens
}

// AddCost accumulates a cost estimate (e.g. tokens * price-per-token) into
// the rolling window total; callers compute the cost, Tracker just sums it.
func (t *Tracker) AddCost(cost float64) {
	t.mu.Lock()
	t.windowCost += cost
	t.mu.Unlock()
}

// BudgetExhausted reports whether the rolling window cost has reached the
// configured budget. A zero budget means unlimited.
func (t *Tracker) BudgetExhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budget > 0 && t.windowCost >= t.budget
}

// ResetWindow clears the rolling window cost, called by the caller's
// periodic window-rotation timer.
func (t *Tracker) ResetWindow() {
	t.mu.Lock()
	t.windowCost = 0
	t.mu.Unlock()
}

// UsageByModel returns a snapshot of accumulated usage per model.
func (t *Tracker) UsageByModel() map[string]Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Usage, len(t.perModel))
	for k, v := range t.perModel {
		out[k] = v
	}
	return out
}

// TotalUsage returns the accumulated total usage across all models.
func (t *Tracker) TotalUsage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
