package hostscheduler

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/dutlab/labsched/internal/scheduler/configuration"
)

// ConnectTimeout bounds a single probe connection attempt. The probe blocks
// the scheduling tick for up to this long per unreachable host, which is
// acceptable at lab scale.
const ConnectTimeout = 5 * time.Second

const sshPort = "22"

// ProbeStatus distinguishes a host that is down from a probe that failed for
// reasons of our own, so operators can tell the two apart in the logs. The
// eligibility contract only ever sees the boolean.
type ProbeStatus int

const (
	Reachable ProbeStatus = iota
	Unreachable
	ProbeError
)

type ProbeResult struct {
	Status ProbeStatus
	// Cause is nil for Reachable
	Cause error
}

// Prober checks whether a host will accept an SSH connection.
type Prober interface {
	Probe(ctx context.Context, hostname string) ProbeResult
}

// SSHProber probes hosts by opening and immediately closing a real SSH
// connection, the same channel jobs will later use.
type SSHProber struct {
	user     string
	auth     []ssh.AuthMethod
	attempts uint
}

func NewSSHProber(cfg configuration.SSHConfig) (*SSHProber, error) {
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
	return &SSHProber{
		user:     cfg.User,
		auth:     auth,
		attempts: cfg.ConnectRetries + 1,
	}, nil
}

func (p *SSHProber) Probe(ctx context.Context, hostname string) ProbeResult {
	addr := net.JoinHostPort(hostname, sshPort)
	clientConfig := &ssh.ClientConfig{
		User:            p.user,
		Auth:            p.auth,
		Timeout:         ConnectTimeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	err := retry.Do(
		func() error { return dial(ctx, addr, clientConfig) },
		retry.Attempts(p.attempts),
		retry.LastErrorOnly(true),
		// A cancelled tick must not spin through the remaining attempts.
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
	)
	if err == nil {
		return ProbeResult{Status: Reachable}
	}
	if ctx.Err() != nil {
		return ProbeResult{Status: ProbeError, Cause: ctx.Err()}
	}
	// DNS failure, refusal and timeout all collapse to the same outcome.
	return ProbeResult{Status: Unreachable, Cause: err}
}

// dial runs the ssh connect in a goroutine so a flaky network cannot block us
// past ctx; crypto/ssh itself doesn't accept contexts. An in-flight attempt
// cannot be cancelled, only abandoned.
func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) error {
	ch := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", addr, cfg)
		if client != nil {
			client.Close()
		}
		ch <- err
	}()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
