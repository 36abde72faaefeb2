// Package httpapi exposes the broadcast intake pipeline over HTTP.
//
// Routes:
//
//	POST /v1/broadcasts   submit a broadcast job
//	POST /sendMessage     alias of /v1/broadcasts
//	GET  /healthz         job store ping
package httpapi
