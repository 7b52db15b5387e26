// Package queue connects to RabbitMQ, where LMS database triggers publish
// change messages.
//
// Consumer declares the durable queue, applies the prefetch limit and hands
// each delivery to the caller as a Message with manual acknowledgement. It
// reconnects on its own after connection loss. Publisher writes messages
// back to the same queue, used to replay archived dead letters.
package queue
