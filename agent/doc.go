// Package agent implements the turn-bounded control loop that drives a
// conversation between a model and a code sandbox: it requests assistant
// messages, classifies them as terminal answers or executable code batches,
// runs code fail-fast, and folds results back into the conversation until the
// model answers or the turn budget runs out.
package agent
