// Package observability holds the Prometheus instruments shared by the
// inference dispatcher, the speech loop and the bot bridge.
package observability
