package sshpool

import (
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// agentSigners adapts a live agent socket connection into the callback
// shape ssh.PublicKeysCallback expects, deferring key enumeration until
// the handshake actually needs it.
func agentSigners(conn net.Conn) func() ([]ssh.Signer, error) {
	client := agent.NewClient(conn)
	return client.Signers
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
