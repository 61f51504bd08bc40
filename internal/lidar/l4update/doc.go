// Package l4update owns Layer 4 (Update) of the mapping pipeline.
//
// Responsibilities: integrate one sensor frame into the primary and
// frontier occupancy maps. A frame is rate limited, transformed into the
// map frame, classified point by point, ray traced under the map read
// lock, disjointed lock-free and finally applied to both maps under the
// write lock.
// Key types: Engine, Config, Result, RateLimiter.
//
// Dependency rule: L4 may depend on L2 and L3, but never on L5+.
package l4update
