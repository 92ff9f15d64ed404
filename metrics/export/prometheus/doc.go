// Package prometheus renders formguard metrics in the Prometheus text
// exposition format without pulling in the Prometheus client library.
package prometheus
