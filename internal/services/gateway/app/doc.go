// Package server hosts the gateway HTTP process: the realtime endpoint that
// negotiates transports, the per-session read loops, and the broadcast wiring
// that fans events out locally and across peer nodes.
package server
