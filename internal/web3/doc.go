// Package web3 houses blockchain connectivity for settlement: chain
// definitions loaded from YAML, and read-only RPC clients that report the
// latest confirmed height of each supported network.
package web3
