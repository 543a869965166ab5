// Package api exposes the transaction pipeline over HTTP: synchronous
// execution, asynchronous tasks, a JSON metrics snapshot and the Prometheus
// scrape endpoint. Write requests can be required to carry a secp256k1
// signature over the request body.
package api
