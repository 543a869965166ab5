// Package ratelimit implements a fixed-window request limiter.
//
// The window resets lazily on the first check after it has elapsed. A fixed
// window can admit up to twice the limit across a window boundary: max
// requests at the end of one window followed by max at the start of the next.
package ratelimit
