/*
Package dispatcher implements the request dispatcher (C4): an HTTP/JSON
surface over the metadata engine and blob store, identifying the caller by
the X-User-Id header and serializing every mutation through that user's
engine.UserActor.

Routing follows the teacher's stdlib-only style (pkg/api/health.go,
pkg/metrics/health.go): one http.ServeMux, one handler per path prefix,
path parameters parsed by hand with strings.TrimPrefix/strings.Split rather
than a router dependency — the pack never reaches for a third-party router
even where it uses one for everything else (gRPC for its cluster API), so
neither does this package for its HTTP one.
*/
package dispatcher
