//
//  Copyright © Manetu Inc. All rights reserved.
//

package guard

import (
	"github.com/labstack/echo/v4"
	"github.com/manetu/trackauth/pkg/core"
	"github.com/manetu/trackauth/pkg/core/permissions"
	"github.com/manetu/trackauth/pkg/core/store"
)

// Extractor pulls the protected resource id out of a request. Extractors
// that receive a name rather than an id resolve it through the authorizer.
type Extractor func(c echo.Context, az core.Authorizer) (string, error)

// Rule describes the protection applied to one tracking API route.
type Rule struct {
	Kind       store.Kind
	Capability permissions.Capability
	Resource   Extractor
}

func fromQuery(names ...string) Extractor {
	return func(c echo.Context, _ core.Authorizer) (string, error) {
		return queryField(c, names...)
	}
}

func fromBody(names ...string) Extractor {
	return func(c echo.Context, _ core.Authorizer) (string, error) {
		return bodyField(c, names...)
	}
}

// experimentByName resolves the experiment_name query parameter to an
// experiment id via the tracking server.
func experimentByName(c echo.Context, az core.Authorizer) (string, error) {
	name, err := queryField(c, "experiment_name")
	if err != nil {
		return "", err
	}
	return az.ExperimentIDForName(c.Request().Context(), name)
}

// routes is the protection table for the tracking server API. Routes not
// listed here require authentication only; notably, the create endpoints
// are open to any authenticated caller since the resource does not exist
// yet.
var routes = map[string]Rule{
	// experiments
	"GET /api/2.0/mlflow/experiments/get":                 {store.KindExperiment, permissions.CapabilityRead, fromQuery("experiment_id")},
	"GET /api/2.0/mlflow/experiments/get-by-name":         {store.KindExperiment, permissions.CapabilityRead, experimentByName},
	"POST /api/2.0/mlflow/experiments/update":             {store.KindExperiment, permissions.CapabilityUpdate, fromBody("experiment_id")},
	"POST /api/2.0/mlflow/experiments/delete":             {store.KindExperiment, permissions.CapabilityDelete, fromBody("experiment_id")},
	"POST /api/2.0/mlflow/experiments/restore":            {store.KindExperiment, permissions.CapabilityDelete, fromBody("experiment_id")},
	"POST /api/2.0/mlflow/experiments/set-experiment-tag": {store.KindExperiment, permissions.CapabilityUpdate, fromBody("experiment_id")},

	// runs; permission is the parent experiment's. run_uuid is the alias
	// older tracking clients still send in place of run_id.
	"POST /api/2.0/mlflow/runs/create":        {store.KindExperiment, permissions.CapabilityUpdate, fromBody("experiment_id")},
	"GET /api/2.0/mlflow/runs/get":            {store.KindRun, permissions.CapabilityRead, fromQuery("run_id", "run_uuid")},
	"POST /api/2.0/mlflow/runs/update":        {store.KindRun, permissions.CapabilityUpdate, fromBody("run_id", "run_uuid")},
	"POST /api/2.0/mlflow/runs/delete":        {store.KindRun, permissions.CapabilityDelete, fromBody("run_id", "run_uuid")},
	"POST /api/2.0/mlflow/runs/restore":       {store.KindRun, permissions.CapabilityDelete, fromBody("run_id", "run_uuid")},
	"POST /api/2.0/mlflow/runs/log-metric":    {store.KindRun, permissions.CapabilityUpdate, fromBody("run_id", "run_uuid")},
	"POST /api/2.0/mlflow/runs/log-parameter": {store.KindRun, permissions.CapabilityUpdate, fromBody("run_id", "run_uuid")},
	"POST /api/2.0/mlflow/runs/log-batch":     {store.KindRun, permissions.CapabilityUpdate, fromBody("run_id", "run_uuid")},
	"POST /api/2.0/mlflow/runs/set-tag":       {store.KindRun, permissions.CapabilityUpdate, fromBody("run_id", "run_uuid")},
	"POST /api/2.0/mlflow/runs/delete-tag":    {store.KindRun, permissions.CapabilityUpdate, fromBody("run_id", "run_uuid")},

	// registered models
	"GET /api/2.0/mlflow/registered-models/get":         {store.KindRegisteredModel, permissions.CapabilityRead, fromQuery("name")},
	"POST /api/2.0/mlflow/registered-models/update":     {store.KindRegisteredModel, permissions.CapabilityUpdate, fromBody("name")},
	"POST /api/2.0/mlflow/registered-models/rename":     {store.KindRegisteredModel, permissions.CapabilityUpdate, fromBody("name")},
	"POST /api/2.0/mlflow/registered-models/delete":     {store.KindRegisteredModel, permissions.CapabilityDelete, fromBody("name")},
	"POST /api/2.0/mlflow/registered-models/set-tag":    {store.KindRegisteredModel, permissions.CapabilityUpdate, fromBody("name")},
	"POST /api/2.0/mlflow/registered-models/delete-tag": {store.KindRegisteredModel, permissions.CapabilityUpdate, fromBody("name")},

	// model versions share their model's grants
	"GET /api/2.0/mlflow/model-versions/get":               {store.KindRegisteredModel, permissions.CapabilityRead, fromQuery("name")},
	"POST /api/2.0/mlflow/model-versions/create":           {store.KindRegisteredModel, permissions.CapabilityUpdate, fromBody("name")},
	"POST /api/2.0/mlflow/model-versions/update":           {store.KindRegisteredModel, permissions.CapabilityUpdate, fromBody("name")},
	"POST /api/2.0/mlflow/model-versions/delete":           {store.KindRegisteredModel, permissions.CapabilityDelete, fromBody("name")},
	"POST /api/2.0/mlflow/model-versions/transition-stage": {store.KindRegisteredModel, permissions.CapabilityUpdate, fromBody("name")},

	// prompts
	"GET /api/2.0/mlflow/prompts/get":      {store.KindPrompt, permissions.CapabilityRead, fromQuery("name")},
	"POST /api/2.0/mlflow/prompts/update":  {store.KindPrompt, permissions.CapabilityUpdate, fromBody("name")},
	"POST /api/2.0/mlflow/prompts/delete":  {store.KindPrompt, permissions.CapabilityDelete, fromBody("name")},
	"POST /api/2.0/mlflow/prompts/set-tag": {store.KindPrompt, permissions.CapabilityUpdate, fromBody("name")},
}

func lookupRoute(method, path string) (Rule, bool) {
	rule, ok := routes[method+" "+path]
	return rule, ok
}
