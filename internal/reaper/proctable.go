package reaper

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// HostProcesses is the ProcessTable of the local host.
type HostProcesses struct{}

func (HostProcesses) Exists(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	return process.PidExists(int32(pid))
}

// Runs matches executable against the process image and its first two
// command line words, so interpreted executables are recognised too.
func (HostProcesses) Runs(pid int, executable string) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	p, err := process.NewProcess(int32(pid))
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if running, err := p.IsRunning(); err != nil || !running {
		return false, err
	}
	if exe, err := p.Exe(); err == nil && exe == executable {
		return true, nil
	}
	argv, err := p.CmdlineSlice()
	if err != nil {
		return false, err
	}
	for i := 0; i < len(argv) && i < 2; i++ {
		if argv[i] == executable {
			return true, nil
		}
	}
	return false, nil
}

// Kill sends SIGKILL to the process group led by pid, or to pid alone
// when it does not lead a group.
func (HostProcesses) Kill(pid int) error {
	if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
		if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("killing group %d: %w", pid, err)
		}
		return nil
	}
	p, err := process.NewProcess(int32(pid))
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return nil
	}
	if err != nil {
		return err
	}
	return p.Kill()
}
