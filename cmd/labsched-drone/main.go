// labsched-drone is the drone-side utility the scheduler invokes over SSH.
// It executes one remote call per invocation and exits.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/dutlab/labsched/internal/scheduler/reaper"
)

func main() {
	parserCommand := pflag.String("parser", "parse", "Command name of the results parser process")
	pflag.Parse()
	args := pflag.Args()
	if len(args) == 0 {
		log.Fatal("Usage: labsched-drone <method> [args...]")
	}

	r := reaper.New(reaper.OSSignaller{}, *parserCommand)

	method, args := args[0], args[1:]
	switch method {
	case "kill_processes":
		r.KillProcesses(parsePids(args))
	case "check_parse":
		printParserPids(r)
	case "list_processes":
		printJobPids()
	case "run_autoserv":
		if len(args) != 2 {
			log.Fatal("Usage: labsched-drone run_autoserv <job-id> <hostname>")
		}
		runCommand(jobCommand, "-p", "-m", args[1], "--job-id", args[0])
	case "copy_to_results_repository":
		if len(args) != 2 {
			log.Fatal("Usage: labsched-drone copy_to_results_repository <source> <destination>")
		}
		runCommand("rsync", "-az", args[0], args[1])
	default:
		log.Fatalf("Unknown method %q", method)
	}
}

// jobCommand is the binary that runs one job's server-side control flow.
const jobCommand = "autoserv"

func parsePids(args []string) []int32 {
	pids := make([]int32, 0, len(args))
	for _, arg := range args {
		pid, err := strconv.ParseInt(arg, 10, 32)
		if err != nil {
			log.Fatalf("Invalid pid %q", arg)
		}
		pids = append(pids, int32(pid))
	}
	return pids
}

// printParserPids writes the pid of every running results-parser process to
// stdout, one per line.
func printParserPids(r *reaper.Reaper) {
	processes, err := process.Processes()
	if err != nil {
		log.WithError(err).Fatal("Failed to list processes")
	}
	for _, p := range processes {
		name, err := p.Name()
		if err != nil {
			// Process exited between listing and inspection.
			continue
		}
		if r.CheckParse(reaper.ProcessInfo{Pid: p.Pid, Comm: name}) {
			fmt.Println(p.Pid)
		}
	}
}

// printJobPids writes the pid of every running job process to stdout, one per
// line, for the scheduler's per-tick load refresh.
func printJobPids() {
	processes, err := process.Processes()
	if err != nil {
		log.WithError(err).Fatal("Failed to list processes")
	}
	for _, p := range processes {
		name, err := p.Name()
		if err != nil {
			// Process exited between listing and inspection.
			continue
		}
		if name == jobCommand {
			fmt.Println(p.Pid)
		}
	}
}

func runCommand(name string, args ...string) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		log.WithError(err).Fatalf("%s failed", name)
	}
}
