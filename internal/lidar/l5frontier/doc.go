// Package l5frontier owns Layer 5 (Frontier) of the mapping pipeline.
//
// Responsibilities: drain the frontier map's change log, classify changed
// voxels as frontier candidates and maintain the persistent frontier set.
// Key types: ChangeTracker, Classifier, Merger, Bounds.
//
// Dependency rule: L5 may depend on L2–L4, but never on the pipeline or
// publication packages. Every map access goes through WithRead/WithWrite.
package l5frontier
