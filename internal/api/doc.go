// Package api hosts the controller-facing admin HTTP surface: the
// exporter's status/OTP/verify/download workflow, POST /api/restart,
// and the Prometheus /metrics endpoint. The export
// login flow itself (the vendor cloud HTTP calls) is out of scope and
// lives behind the exporter.CloudClient interface; this package only
// owns routing, auth, and the HTTP envelope around it.
package api
