// Package domain defines the job record shared by the store, the job runner
// and the HTTP API.
package domain
