// Package auth guards the control plane of the asset cache.
//
// Control endpoints accept an API key (X-API-Key) or a bearer JWT, verified
// with a shared HMAC secret or keys from a JWKS endpoint. Authenticated
// identities must carry RoleCacheAdmin to act on the cache.
package auth
