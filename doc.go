// Package gax shapes client-side RPC calls: it layers timeouts, retries
// with jittered exponential backoff, pagination and request bundling
// around a plain unary call, and tracks long-running operations.
//
// The central type is Callable[Req, Resp], built from an APICall and the
// method's CallSettings. Settings usually come from a client configuration
// file through LoadClientConfig and ConstructSettings.
package gax
