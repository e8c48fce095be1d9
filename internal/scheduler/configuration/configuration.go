package configuration

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Section is the config-file section holding the scheduler tunables.
const Section = "scheduler"

// LabschedConfig is the top-level application configuration.
type LabschedConfig struct {
	// Port the prometheus metrics server listens on
	MetricsPort uint16
	// Connection details for the job database
	Postgres PostgresConfig
	// Hostnames of the drones this scheduler dispatches to
	Drones []string
	// Results repository root on the scheduler host
	ResultsDir string
	// SSH settings used for host reachability probes
	SSH SSHConfig
}

type PostgresConfig struct {
	Connection map[string]string
}

type SSHConfig struct {
	// User to connect as, e.g. root for lab DUTs
	User string
	// Path to the private key used for probe connections
	KeyFile string
	// Number of connect attempts before a host is declared unreachable
	ConnectRetries uint
}

// Settings is a typed snapshot of the scheduler tunables. Values are read
// once per Store.Read call and never mutated in place, so a tick always sees
// a consistent set.
type Settings struct {
	// Maximum autoserv processes a single drone may run
	MaxProcessesPerDrone int
	// Fraction of total process capacity above which a warning is logged
	MaxProcessesWarningThreshold float64
	// Maximum jobs dispatched in one scheduling cycle
	MaxJobsStartedPerCycle int
	// Minutes between database cleanup passes
	CleanIntervalMinutes int
	// Maximum concurrent result-parser processes
	MaxParseProcesses int
	// Seconds to sleep between scheduling cycles
	TickPauseSec int
	// Maximum concurrent results-transfer processes
	MaxTransferProcesses int
	// How long a queue entry may wait for the rest of its atomic group
	SecsToWaitForAtomicGroupHosts int
	// Hosts idle longer than this get re-verified
	ReverifyPeriodMinutes int
	// Upper bound on hosts re-verified in one pass
	ReverifyMaxHostsAtOnce int
	// Maximum concurrent repair tasks
	MaxRepairLimit int
	// Times a failed provision is retried before the host is marked bad
	MaxProvisionRetries int
	// Command name of the results parser process
	ParserCommand string
}

func (s Settings) Validate() error {
	if s.MaxProcessesPerDrone <= 0 {
		return errors.Errorf("maxProcessesPerDrone must be positive, got %d", s.MaxProcessesPerDrone)
	}
	if s.MaxProcessesWarningThreshold <= 0 || s.MaxProcessesWarningThreshold > 1 {
		return errors.Errorf("maxProcessesWarningThreshold must be in (0, 1], got %f", s.MaxProcessesWarningThreshold)
	}
	if s.MaxJobsStartedPerCycle <= 0 {
		return errors.Errorf("maxJobsStartedPerCycle must be positive, got %d", s.MaxJobsStartedPerCycle)
	}
	if s.TickPauseSec <= 0 {
		return errors.Errorf("tickPauseSec must be positive, got %d", s.TickPauseSec)
	}
	if s.ParserCommand == "" {
		return errors.New("parserCommand must not be empty")
	}
	return nil
}

// Store provides typed access to the scheduler section of the config file.
// Read is never called implicitly: callers needing fresh values after a live
// config edit must call it again themselves.
type Store struct {
	v *viper.Viper
}

func NewStore(v *viper.Viper) *Store {
	return &Store{v: v}
}

// Read materializes a Settings snapshot from the backing store. A missing or
// malformed value is fatal to the caller: the scheduler must not run with
// wrong limits.
func (s *Store) Read() (Settings, error) {
	var settings Settings
	if err := s.v.UnmarshalKey(Section, &settings); err != nil {
		return Settings{}, errors.WithStack(err)
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// CopyTaskResultsBack reads the copy-back flag fresh from the backing store
// on every call, so operators can toggle it without a scheduler restart.
func (s *Store) CopyTaskResultsBack() bool {
	return s.v.GetBool(Section + ".copyTaskResultsBack")
}
