// Package types holds the request, response and quote types shared across the
// execution pipeline.
package types
