// Package api provides the request/response types for the ModelRelay HTTP API.
//
// This package contains the serialization DTOs for the public endpoints and
// the conversions between API types and the canonical llm types.
//
// # API Overview
//
// ModelRelay exposes a small OpenAI-compatible REST surface:
//   - Chat completions (sync and SSE streaming via the "stream" flag)
//   - Audio transcription (multipart upload)
//   - Provider listing
//   - Health monitoring and metrics
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # Streaming
//
// When ChatRequest.Stream is true, /v1/chat/completions responds with
// text/event-stream. Each data frame is one serialized stream event; the
// stream always terminates with:
//
//	data: [DONE]
//
// # Error Shape
//
// Errors use the unified envelope from the handlers package:
//
//	{"success": false, "error": {"code": "...", "message": "...", "retryable": false}}
package api
