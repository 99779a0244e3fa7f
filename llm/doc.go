// Package llm defines the model-client boundary of the codeact runtime: the
// Provider interface, the chat request/response types exchanged with a
// text-generation backend, and a unified error type aligning HTTP status with
// retryability. The agent controller consumes only this contract; concrete
// transports live under llm/providers.
package llm
