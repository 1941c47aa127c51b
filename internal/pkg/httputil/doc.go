// Package httputil holds the JSON request and response helpers used by the
// operations API, so every endpoint shares one error envelope.
package httputil
