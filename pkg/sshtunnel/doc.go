// Package sshtunnel provides SSH port forwarding for database connections
// that are only reachable through a bastion host, plus a cache that reuses
// healthy tunnels across engines keyed to the same forwarding parameters.
//
// A Tunnel binds an ephemeral local port and forwards every accepted
// connection to the remote database endpoint over a single SSH client
// connection. Health is tracked with a keepalive probe: once the probe (or
// the local listener) fails, Active reports false and the cache replaces the
// tunnel on the next request instead of patching it in place.
//
// # Usage
//
//	cache := sshtunnel.NewCache(sshtunnel.WithKeepalive(30 * time.Second))
//	defer cache.Close()
//
//	target, _ := url.Parse("postgres://analytics.internal/reporting")
//	tunnel, err := cache.GetTunnel(cfg, target)
//	if err != nil {
//		// handle error
//	}
//	// Dial tunnel.LocalAddr():tunnel.LocalPort() instead of the target host.
//
// Tunnels are cached under a hashed fingerprint of their forwarding
// parameters, so credentials and private keys never appear in cache keys or
// logs. Concurrent requests for the same fingerprint result in at most one
// tunnel being opened.
package sshtunnel
