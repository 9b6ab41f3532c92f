package worker

import "os/exec"

// Windows has no SIGTERM, both requests kill the process.
func (p *proc) sendKillSignal(_ bool) error {
	return p.process.Kill()
}

func initCmd(cmd *exec.Cmd) {
	// No-op on Windows.
}
