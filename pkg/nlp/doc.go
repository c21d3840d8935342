// Package nlp provides the language model clients used by entity and fact
// extraction.
//
// OpenAIClient talks to OpenAI and to any OpenAI-compatible service (Ollama,
// vLLM, LiteLLM) selected with a custom base URL. Two wrappers decorate a
// Client:
//   - CircuitBreakerClient fails fast while a provider is unhealthy and
//     alerts when the breaker opens.
//   - TokenTrackingClient archives per-call token usage to Parquet files.
//
// Retries are not a client concern. Callers run model calls through a
// utils.Gate and classify failures with IsRetryableError.
//
// The typed errors RateLimitError, RefusalError and EmptyResponseError match
// their sentinels with errors.Is.
package nlp
