// Package workflow holds the engine-independent parts of the workflow model:
// graph validation, input resolution, the node execution contract with its
// kind registry, the switch operator catalog and the error taxonomy shared
// by the stores, the engine and the HTTP layer.
package workflow
