// Package jobs runs quantization jobs on a bounded worker pool. Each job
// gets a cancellation Token that the pipeline polls between stages; the
// token also enforces the soft time limit. Job state is persisted through
// a store.JobStore and every change is published to a progress.Broker.
package jobs
