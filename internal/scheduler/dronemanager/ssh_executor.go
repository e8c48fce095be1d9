package dronemanager

import (
	"context"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/dutlab/labsched/internal/scheduler/configuration"
)

// droneUtilityCommand is the drone-side binary that executes remote calls.
const droneUtilityCommand = "labsched-drone"

const sshPort = "22"

const connectTimeout = 5 * time.Second

// SSHExecutor runs drone calls by invoking the drone utility over SSH.
type SSHExecutor struct {
	user string
	auth []ssh.AuthMethod
}

func NewSSHExecutor(cfg configuration.SSHConfig) (*SSHExecutor, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, errors.Wrapf(err, "reading ssh key %s", cfg.KeyFile)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing ssh key %s", cfg.KeyFile)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	return &SSHExecutor{user: cfg.User, auth: auth}, nil
}

func (e *SSHExecutor) Call(ctx context.Context, drone string, call RemoteCall) error {
	client, err := e.dial(ctx, drone)
	if err != nil {
		return errors.Wrapf(err, "connecting to drone %s", drone)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return errors.Wrapf(err, "opening session on drone %s", drone)
	}
	defer session.Close()

	command := CommandLine(call)
	if err := session.Run(command); err != nil {
		return errors.Wrapf(err, "running %q on drone %s", command, drone)
	}
	return nil
}

// ListProcesses asks the drone utility for the pids of the job processes
// currently running on the drone.
func (e *SSHExecutor) ListProcesses(ctx context.Context, drone string) ([]Process, error) {
	client, err := e.dial(ctx, drone)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to drone %s", drone)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, errors.Wrapf(err, "opening session on drone %s", drone)
	}
	defer session.Close()

	out, err := session.Output(CommandLine(RemoteCall{Method: ListProcessesMethod}))
	if err != nil {
		return nil, errors.Wrapf(err, "listing processes on drone %s", drone)
	}
	return parseProcessList(drone, string(out))
}

// parseProcessList reads the drone utility's process listing, one pid per
// line.
func parseProcessList(drone string, out string) ([]Process, error) {
	var processes []Process
	for _, field := range strings.Fields(out) {
		pid, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			return nil, errors.Errorf("malformed pid %q in process listing from drone %s", field, drone)
		}
		processes = append(processes, Process{Drone: drone, Pid: int32(pid)})
	}
	return processes, nil
}

func (e *SSHExecutor) dial(ctx context.Context, drone string) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            e.user,
		Auth:            e.auth,
		Timeout:         connectTimeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	type dialResult struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", net.JoinHostPort(drone, sshPort), cfg)
		ch <- dialResult{client: client, err: err}
	}()
	select {
	case res := <-ch:
		return res.client, res.err
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.client != nil {
				res.client.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// CommandLine renders a remote call as the drone utility invocation that
// executes it. Each argument is quoted for the drone's shell, so a results
// path or hostname containing whitespace or metacharacters arrives as a
// single word.
func CommandLine(call RemoteCall) string {
	parts := []string{droneUtilityCommand, call.Method}
	for _, arg := range call.Args {
		switch v := arg.(type) {
		case []Process:
			for _, p := range v {
				parts = append(parts, strconv.Itoa(int(p.Pid)))
			}
		default:
			parts = append(parts, shellEscape(fmt.Sprintf("%v", v)))
		}
	}
	return strings.Join(parts, " ")
}

var safeShellWord = regexp.MustCompile(`^[A-Za-z0-9@%_+=:,./-]+$`)

// shellEscape single-quotes s unless it consists solely of characters no
// shell interprets.
func shellEscape(s string) string {
	if safeShellWord.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
