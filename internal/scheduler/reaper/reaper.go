package reaper

import (
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

// killSignals is the escalation sequence: wake any stopped process so it can
// receive further signals, ask politely, then force.
var killSignals = []syscall.Signal{syscall.SIGCONT, syscall.SIGTERM, syscall.SIGKILL}

// ProcessInfo is one row of a drone's process table.
type ProcessInfo struct {
	Pid  int32
	Comm string
}

// Signaller delivers signals to processes. Narrow so tests don't have to
// kill anything real.
type Signaller interface {
	Signal(pid int32, sig syscall.Signal) error
}

// OSSignaller signals live processes via their proc handles.
type OSSignaller struct{}

func (OSSignaller) Signal(pid int32, sig syscall.Signal) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.SendSignal(sig)
}

// Reaper terminates orphaned job-step processes and recognizes result-parser
// processes in the process table.
type Reaper struct {
	signaller     Signaller
	parserCommand string
}

func New(signaller Signaller, parserCommand string) *Reaper {
	return &Reaper{signaller: signaller, parserCommand: parserCommand}
}

// KillProcesses sends the escalation sequence to the whole batch, each signal
// applied across every pid before escalating, to bound total wait time.
// Killing is best-effort: a pid that vanished between listing and killing is
// logged at warning level and the rest of the batch proceeds.
func (r *Reaper) KillProcesses(pids []int32) {
	for _, sig := range killSignals {
		for _, pid := range pids {
			if err := r.signaller.Signal(pid, sig); err != nil {
				log.WithError(err).Warnf("Failed to send signal %d to pid %d", sig, pid)
			}
		}
	}
}

// CheckParse reports whether a process-table entry is a results-parser
// process.
func (r *Reaper) CheckParse(p ProcessInfo) bool {
	return p.Comm == r.parserCommand
}
