// Package recognition implements the HTTP client for the opaque recognition
// backend. It submits WAV-encoded audio windows as multipart form data,
// applies retry with exponential backoff and a concurrency bound, and
// renders backend tokens into client-visible text.
package recognition
