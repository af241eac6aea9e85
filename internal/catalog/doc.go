// Package catalog talks to the remote anime catalog (Shikimori API shape).
//
// The Client exposes three operations (Search, Details, Related), each of
// which consults the request cache before issuing a single GET. Responses are
// validated and coerced into explicit Summary, Details and RelationEdge
// schemas at this boundary so the rest of the module never inspects raw
// payloads. Failures are classified with the services taxonomy: 429 as
// ErrRateLimited, 404 as ErrNotFound, 5xx as ErrServer, transport failures
// and timeouts as ErrNetwork, and non-JSON bodies as ErrMalformedResponse.
package catalog
