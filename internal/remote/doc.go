// Package remote binds the processing unit contract to an HTTP
// request/response protocol. The Proxy client forwards unit calls to a
// remote pooled server under a session id it owns; the Handler serves
// those calls over a bounded unit pool.
package remote
