package model

import (
	"fmt"
	"log/slog"

	"github.com/ashwalker/pairbot/internal/domain"
)

// Tracker is the registry of monitored groups. A single instrument may
// legitimately belong to several groups; one snapshot then produces several
// model updates.
type Tracker struct {
	groups  map[string]*Group
	byInstr map[domain.InstrumentID][]*Group
	order   []*Group // registration order, for deterministic dispatch
	logger  *slog.Logger
}

// NewTracker creates an empty group registry.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		groups:  make(map[string]*Group),
		byInstr: make(map[domain.InstrumentID][]*Group),
		logger:  logger,
	}
}

// Register adds a group to the tracker.
func (t *Tracker) Register(cfg GroupConfig) (*Group, error) {
	if _, ok := t.groups[cfg.ID]; ok {
		return nil, fmt.Errorf("model: duplicate group %q", cfg.ID)
	}
	g := NewGroup(cfg, t.logger)
	t.groups[cfg.ID] = g
	t.byInstr[cfg.Reference] = append(t.byInstr[cfg.Reference], g)
	t.byInstr[cfg.Dependent] = append(t.byInstr[cfg.Dependent], g)
	t.order = append(t.order, g)
	return g, nil
}

// Unregister destroys a group. This is the only way a model is removed
// mid-run.
func (t *Tracker) Unregister(id string) error {
	g, ok := t.groups[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownGroup, id)
	}
	delete(t.groups, id)
	for _, instr := range []domain.InstrumentID{g.cfg.Reference, g.cfg.Dependent} {
		list := t.byInstr[instr]
		for i, cand := range list {
			if cand == g {
				t.byInstr[instr] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	for i, cand := range t.order {
		if cand == g {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

// Group returns a registered group by id.
func (t *Tracker) Group(id string) (*Group, bool) {
	g, ok := t.groups[id]
	return g, ok
}

// Touching returns the groups that include the given instrument.
func (t *Tracker) Touching(id domain.InstrumentID) []*Group {
	return t.byInstr[id]
}

// Count returns the number of registered groups.
func (t *Tracker) Count() int { return len(t.order) }

// Instruments returns the distinct instruments across all groups.
func (t *Tracker) Instruments() []domain.InstrumentID {
	out := make([]domain.InstrumentID, 0, len(t.byInstr))
	for id := range t.byInstr {
		out = append(out, id)
	}
	return out
}

// OnSnapshot dispatches an accepted snapshot to every group touching its
// instrument and collects the resulting model updates in registration order.
func (t *Tracker) OnSnapshot(snap domain.MarketSnapshot) []domain.ModelUpdate {
	var updates []domain.ModelUpdate
	for _, g := range t.order {
		if !g.Touches(snap.Instrument) {
			continue
		}
		if upd, ok := g.OnSnapshot(snap); ok {
			updates = append(updates, upd)
		}
	}
	return updates
}

// ResetAll resets every group, bumping each generation. Called when the
// market data stream restarts, so stale in-flight opportunities are fenced
// off by generation.
func (t *Tracker) ResetAll() {
	for _, g := range t.order {
		g.Reset()
	}
}
