// Package otel publishes engine metrics as OpenTelemetry observable
// instruments read from the engine snapshot on each collection.
package otel
