package sshtunnel

import "errors"

var (
	// ErrNoAuthMethod is returned when a tunnel config carries neither a
	// password nor a private key.
	ErrNoAuthMethod = errors.New("ssh tunnel config has no password or private key")

	// ErrInvalidPrivateKey is returned when the configured private key
	// material cannot be parsed.
	ErrInvalidPrivateKey = errors.New("invalid ssh private key")

	// ErrUnknownRemotePort is returned when the target URI has no port and
	// the database family has no conventional default.
	ErrUnknownRemotePort = errors.New("cannot determine remote port for target database")

	// ErrTunnelDial is returned when the SSH server cannot be reached.
	ErrTunnelDial = errors.New("failed to connect to ssh server")

	// ErrTunnelBind is returned when the local forwarding port cannot be bound.
	ErrTunnelBind = errors.New("failed to bind local forwarding address")
)
