// Package stream keeps the bounded live history shown on the dashboard.
//
// A Buffer holds one window per metering channel plus an aligned window of
// human-readable labels. Every Append pushes to all five windows and evicts
// from all of them in lock-step, so index i always names the same sample.
package stream
