// Package pipeline orchestrates the frontier mapping pipeline.
//
// It wires the frame update engine (L4) to the frontier stages (L5) and to
// adapter sinks (publication, persistence), processing one frame at a time.
// The pipeline owns no domain logic; it times each stage, assembles a
// FrameReport and fans the result out to sinks.
//
// This package is the composition root: it imports l2cloud, l3occupancy,
// l4update and l5frontier, but none of those packages import pipeline/.
package pipeline
