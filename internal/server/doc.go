// Package server hosts the Fiber application shared by every request: the
// request-ID middleware, the /proxy/{scheme}/{host}/{path} target parser and
// the tuned upstream http.Client. The proxy handler itself lives in
// internal/proxy and is injected through the ProxyHandler interface so tests
// can substitute fakes.
package server
