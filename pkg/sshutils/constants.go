package sshutils

import "time"

var (
	SSHDialTimeout      = 10 * time.Second
	SFTPReadyTimeout    = 30 * time.Second
	SFTPInitialInterval = 250 * time.Millisecond
	SFTPMaxInterval     = 2 * time.Second
)

const DefaultSSHPort = 22
