// Package middleware groups the HTTP middleware of the status server.
//
//   - auth: API key validation for the status API.
//   - rayid: assigns every request a ray ID, stored in the context locals and
//     echoed in the X-Ray-ID response header.
package middleware
