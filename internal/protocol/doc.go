// Package protocol defines the text-frame messages of the streaming
// transport: JSON control messages recognized by key on the inbound side,
// and delta / end-of-processing frames on the outbound side.
package protocol
