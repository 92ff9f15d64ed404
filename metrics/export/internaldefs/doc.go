// Package internaldefs holds the shared metric name and bucket definitions
// used by the exporter packages. Not intended for direct use.
package internaldefs
