// Package sinks implements progress consumers: structured logs and
// Prometheus collectors for run stages.
package sinks
