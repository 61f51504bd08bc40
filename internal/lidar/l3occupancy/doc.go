// Package l3occupancy owns Layer 3 (Occupancy) of the mapping data model.
//
// Responsibilities: the sparse voxel map keyed by quantised integer
// coordinates, log-odds occupancy evidence with clamping, ray key
// traversal, change detection and the compact binary encoding.
// Key types: Key, KeySet, OccupancyMap, Params.
//
// Dependency rule: L3 may depend on L2, but never on L4+.
// The map carries no frontier or frame semantics; callers acquire the
// map lock through WithRead and WithWrite.
package l3occupancy
