// Package session implements the per-connection streaming state
// machine: audio buffering against the processing interval, control
// message handling in arrival order, and end-of-stream finalization.
package session
