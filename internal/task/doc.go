// Package task runs transactions asynchronously.
//
// A Service records submitted requests in a Store and pushes their ids onto a
// Queue. A Processor consumes the queue, claims each task and drives it
// through the execution pipeline. Retryable failures return the task to
// pending and requeue it with exponential backoff until MaxRetries attempts
// have been made.
package task
