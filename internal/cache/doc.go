// Package cache provides a concurrent in-memory key/value store whose entries
// expire a fixed duration after they were written.
package cache
