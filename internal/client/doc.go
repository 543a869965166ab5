// Package client implements the transaction execution pipeline. A Client
// validates a request, applies admission control, consults the response
// cache, gates shielded transfers on a solvency proof, negotiates a route
// with the routing agents and settles through the chosen route.
//
// Every collaborator is an interface injected through an Option; the
// simulated implementations are used when none is supplied. Each call to
// Execute records exactly one metrics sample and publishes one event.
package client
