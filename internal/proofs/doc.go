// Package proofs implements the privacy and signing primitives used by the
// SDK: solvency proof generation for shielded transfers, and secp256k1
// request signatures.
package proofs
