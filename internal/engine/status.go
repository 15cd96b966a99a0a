package engine

import (
	"context"

	"github.com/vitaliisemenov/deploy-orchestrator/internal/state"
)

// Status describes the current deployment state plus a live readiness
// snapshot of both colors, for the status CLI subcommand.
type Status struct {
	Active           string
	ActivePort       int
	ActiveRunning    bool
	Standby          string
	StandbyPort      int
	StandbyRunning   bool
	StandbyPrewarmed bool
	DeploymentCount  int
}

// Status reads the current state and probes both colors' container
// state. It never mutates the State Store.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	st, err := e.loadState()
	if err != nil {
		return Status{}, err
	}

	activeRunning, _ := e.colorRunning(ctx, st.ActiveColor)
	standbyRunning, _ := e.colorRunning(ctx, st.StandbyColor)

	return Status{
		Active:           st.ActiveColor,
		ActivePort:       st.ActivePort,
		ActiveRunning:    activeRunning,
		Standby:          st.StandbyColor,
		StandbyPort:      st.StandbyPort,
		StandbyRunning:   standbyRunning,
		StandbyPrewarmed: st.StandbyPrewarmed,
		DeploymentCount:  st.DeploymentCount,
	}, nil
}

// History returns the stored deployment history, newest entries last
// (the order they were appended in), without touching any live state.
func (e *Engine) History(ctx context.Context) ([]state.HistoryEntry, error) {
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return st.History, nil
}
