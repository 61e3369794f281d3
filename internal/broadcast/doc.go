// Package broadcast fans persisted comments out to realtime viewers.
//
// The consumer calls Publisher.Notify after a comment is acknowledged. The
// message travels over the configured transport and, in every API process, a
// Relay copies it onto an in-process pub/sub that the SSE endpoint reads.
package broadcast
