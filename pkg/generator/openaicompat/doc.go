// Package openaicompat implements generator.Gateway against any
// OpenAI-compatible Chat Completions backend (vLLM, LiteLLM, OpenAI).
// It handles request serialization, structured output via response_format,
// response parsing, and mapping of HTTP and network failures to API errors.
package openaicompat
