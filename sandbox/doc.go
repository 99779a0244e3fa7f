// Package sandbox provides a policy-restricted execution environment for
// model-generated Starlark code.
//
// A Sandbox owns a persistent namespace, so bindings created by one submission
// are visible to later ones, plus a capability Policy deciding which modules
// may be loaded and which filesystem paths and modes may be opened. Output is
// captured per call and truncated to a configured bound. Execution can run
// in-process (fast, no cancellation) or in an isolated worker process with a
// hard wall-clock timeout and crash containment, at the cost of serializing
// the namespace across the process boundary.
package sandbox
