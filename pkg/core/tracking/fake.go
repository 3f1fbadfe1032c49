//
//  Copyright © Manetu Inc. All rights reserved.
//

package tracking

import (
	"context"
	"sync"

	"github.com/manetu/trackauth/pkg/common"
)

// Fake is an in-memory [Service] for tests and mock mode.
type Fake struct {
	mu          sync.RWMutex
	runs        map[string]Run
	experiments map[string]Experiment // keyed by name
}

// NewFake creates an empty in-memory tracking gateway.
func NewFake() *Fake {
	return &Fake{
		runs:        make(map[string]Run),
		experiments: make(map[string]Experiment),
	}
}

// AddRun seeds a run belonging to the given experiment.
func (f *Fake) AddRun(runID, experimentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID] = Run{RunID: runID, ExperimentID: experimentID}
}

// AddExperiment seeds an experiment.
func (f *Fake) AddExperiment(experimentID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.experiments[name] = Experiment{ExperimentID: experimentID, Name: name}
}

// GetRun resolves a run id.
func (f *Fake) GetRun(_ context.Context, runID string) (*Run, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.runs[runID]
	if !ok {
		return nil, common.NewErrorf(common.CodeNotFound, "run '%s' not found", runID)
	}
	return &r, nil
}

// GetExperimentByName resolves an experiment name.
func (f *Fake) GetExperimentByName(_ context.Context, name string) (*Experiment, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.experiments[name]
	if !ok {
		return nil, common.NewErrorf(common.CodeNotFound, "experiment '%s' not found", name)
	}
	return &e, nil
}
