// Package auth provides authentication middleware for tewa-server.
//
// APIKeyInterceptor(mode, header, key) returns a gRPC UnaryServerInterceptor
// that validates the API key from the named gRPC metadata header.
// HTTPMiddleware(mode, header, key, exempt...) applies the same check to the
// REST API and the WebSocket board. ClientInterceptor attaches the key on the
// agent side.
//
// When mode != "apikey" or key == "", all calls pass through (useful for local
// development with auth disabled). When the key is incorrect or absent, gRPC
// calls fail with codes.Unauthenticated and HTTP requests get 401.
package auth
