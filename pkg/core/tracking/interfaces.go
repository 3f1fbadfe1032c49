//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package tracking defines the gateway to the tracking server's own store,
// used for the two lookups permission resolution needs: run to parent
// experiment, and experiment name to id.
package tracking

import "context"

// Run carries the subset of a run record the resolver needs.
type Run struct {
	RunID        string
	ExperimentID string
}

// Experiment carries the subset of an experiment record the resolver needs.
type Experiment struct {
	ExperimentID string
	Name         string
}

// Service is the read-only tracking store gateway.
//
// Missing entities fail with [common.CodeNotFound]. Implementations must be
// safe for concurrent use.
type Service interface {
	// GetRun resolves a run id to its run record.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// GetExperimentByName resolves an experiment name to its record.
	GetExperimentByName(ctx context.Context, name string) (*Experiment, error)
}
