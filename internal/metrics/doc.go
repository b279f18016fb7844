// Package metrics records compile cycle observability.
//
// Components receive a Recorder through injection and default to
// NoopRecorder, so call sites never check for nil:
//
//	r := runner.New(s, runner.WithRecorder(metrics.NewPrometheusRecorder(reg)))
//
// The dev web server exposes the same registry through HTTPHandler when
// metrics are enabled.
package metrics
