// Package api is the HTTP surface of the authorization store: read routes
// backing the permission caches' fetch path, administrative routes for role
// and assignment management, and the client services use to reach them.
package api
