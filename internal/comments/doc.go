// Package comments holds the types that travel through the ingestion
// pipeline and the ports the pipeline depends on.
//
// An Envelope is the immutable queue payload produced once per accepted
// submission. The consumer turns it into a durable CommentRecord through a
// CommentWriter and hands the result to a Broadcaster.
package comments
