// Package agent negotiates settlement routes with routing agents. It gathers
// quotes from one or more quote sources and selects the best route under a
// chosen preference.
package agent
