// Package localserver serves the admin API over a Unix domain socket.
//
// The socket is created with mode 0600, so access is controlled by file
// system permissions. In addition to every admin route, the socket
// exposes operations that are never reachable over TCP:
//
//	POST /local/v1/shutdown  trigger a graceful shutdown
//	POST /local/v1/reload    reload the configuration file
package localserver
