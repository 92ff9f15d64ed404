// Package otel bridges formguard metrics into an OpenTelemetry meter using
// observable instruments, so the snapshot is read only when the meter's
// reader collects.
package otel
