// Package tls builds the HTTPS configuration of the API server and keeps
// its certificate current. A Reloader polls the certificate and key files
// and swaps in the new pair when either changes, so renewed certificates
// are served without a restart.
package tls
