package sandbox

import "errors"

var (
	ErrDuplicateID     = errors.New("node id already registered")
	ErrUnknownNode     = errors.New("unknown node id")
	ErrDuplicateDaemon = errors.New("daemon already registered")
	ErrUnknownDaemon   = errors.New("unknown daemon")
	ErrUnknownBranch   = errors.New("no branch for node id")
	ErrStartup         = errors.New("process failed at startup")
	ErrClosed          = errors.New("sandbox closed")
)
