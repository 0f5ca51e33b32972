// Package api exposes the job service over HTTP.
//
// Routes are registered on a chi router by NewRouter. Job submission,
// status, cancellation and result download live under /api/v1/quantize;
// job listing and removal under /api/v1/history; text and PNG previews of
// finished jobs under /api/v1/gallery. Progress updates are relayed to
// WebSocket clients on /ws/{id}.
//
// Errors are written as {"error": "..."} JSON bodies. The status code is
// chosen from the error chain by mapErrorToStatus.
package api
