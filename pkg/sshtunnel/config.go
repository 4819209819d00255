package sshtunnel

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Config describes how to reach the SSH server and which credentials to
// present. Exactly one of Password or PrivateKey must be set.
type Config struct {
	Host     string `env:"SSH_TUNNEL_HOST,required"`
	Port     int    `env:"SSH_TUNNEL_PORT" envDefault:"22"`
	Username string `env:"SSH_TUNNEL_USERNAME,required"`

	Password string `env:"SSH_TUNNEL_PASSWORD"`

	// PrivateKey holds PEM-encoded key material, optionally protected by
	// PrivateKeyPassphrase. Used only when Password is empty.
	PrivateKey           string `env:"SSH_TUNNEL_PRIVATE_KEY"`
	PrivateKeyPassphrase string `env:"SSH_TUNNEL_PRIVATE_KEY_PASSPHRASE"`

	// LocalBindHost is the address the forwarding listener binds to.
	// The port is always chosen by the kernel.
	LocalBindHost string `env:"SSH_TUNNEL_LOCAL_BIND_HOST" envDefault:"127.0.0.1"`
}

// defaultPorts maps database families to their conventional ports, used when
// the target URI does not carry one.
var defaultPorts = map[string]int{
	"postgres":   5432,
	"postgresql": 5432,
	"mysql":      3306,
	"mssql":      1433,
	"sqlserver":  1433,
	"oracle":     1521,
	"trino":      8080,
	"presto":     8080,
	"redis":      6379,
	"mongodb":    27017,
}

// forwardParams is the full set of parameters that define a tunnel's
// identity. It is hashed into the cache key and feeds tunnel construction;
// it must never be logged or stored in clear.
type forwardParams struct {
	SSHHost    string `json:"ssh_host"`
	SSHPort    int    `json:"ssh_port"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`

	RemoteHost string `json:"remote_host"`
	RemotePort int    `json:"remote_port"`

	LocalBindHost string `json:"local_bind_host"`

	// KeepaliveSeconds is part of the identity: a tunnel opened without
	// keepalive must not be reused where a monitored one is expected.
	KeepaliveSeconds int `json:"keepalive_seconds"`
}

// newForwardParams resolves the tunnel parameters for cfg against the target
// database URI, defaulting the remote port by database family.
func newForwardParams(cfg Config, target *url.URL, keepaliveSeconds int) (forwardParams, error) {
	if cfg.Password == "" && cfg.PrivateKey == "" {
		return forwardParams{}, ErrNoAuthMethod
	}

	remotePort := 0
	if p := target.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return forwardParams{}, errors.Join(ErrUnknownRemotePort, err)
		}
		remotePort = port
	} else {
		family := strings.SplitN(target.Scheme, "+", 2)[0]
		port, ok := defaultPorts[family]
		if !ok {
			return forwardParams{}, ErrUnknownRemotePort
		}
		remotePort = port
	}

	localBind := cfg.LocalBindHost
	if localBind == "" {
		localBind = "127.0.0.1"
	}

	params := forwardParams{
		SSHHost:          cfg.Host,
		SSHPort:          cfg.Port,
		Username:         cfg.Username,
		RemoteHost:       target.Hostname(),
		RemotePort:       remotePort,
		LocalBindHost:    localBind,
		KeepaliveSeconds: keepaliveSeconds,
	}
	if params.SSHPort == 0 {
		params.SSHPort = 22
	}

	// Password wins when both are configured, matching the precedence used
	// when the tunnel is opened.
	if cfg.Password != "" {
		params.Password = cfg.Password
	} else {
		params.PrivateKey = cfg.PrivateKey
		params.Passphrase = cfg.PrivateKeyPassphrase
	}

	return params, nil
}

// authMethods derives the SSH auth methods from the resolved params.
func (p forwardParams) authMethods() ([]ssh.AuthMethod, error) {
	if p.Password != "" {
		return []ssh.AuthMethod{ssh.Password(p.Password)}, nil
	}

	var (
		signer ssh.Signer
		err    error
	)
	if p.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(p.PrivateKey), []byte(p.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(p.PrivateKey))
	}
	if err != nil {
		return nil, errors.Join(ErrInvalidPrivateKey, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}
