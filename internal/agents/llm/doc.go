// Package llm implements the remote generation backend used when an API key
// is configured. The transport is an OpenRouter-compatible chat completion
// endpoint; retries with jittered backoff absorb transient provider errors.
package llm
