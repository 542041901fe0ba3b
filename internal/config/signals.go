package config

import "golang.org/x/sys/unix"

const (
	signalINT  = unix.SIGINT
	signalTERM = unix.SIGTERM
)
