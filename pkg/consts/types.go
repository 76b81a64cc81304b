package consts

import (
	"fmt"
	"time"
)

// Stage identifies one of the sequenced subsystems brought up by the runner.
// The numeric order is the startup order; shutdown walks it backwards.
type Stage int

const (
	StageDatabase Stage = iota
	StageRuntime
	StageApplication
)

// Stages lists every stage in startup order.
var Stages = []Stage{StageDatabase, StageRuntime, StageApplication}

// ShutdownOrder lists every stage in the order it is torn down.
var ShutdownOrder = []Stage{StageApplication, StageRuntime, StageDatabase}

// Valid reports whether s is one of the fixed stages.
func (s Stage) Valid() bool {
	switch s {
	case StageDatabase, StageRuntime, StageApplication:
		return true
	}
	return false
}

// String returns the wire name used in status events.
func (s Stage) String() string {
	switch s {
	case StageDatabase:
		return "mariadb"
	case StageRuntime:
		return "jre"
	case StageApplication:
		return "backend"
	}
	return "unknown"
}

// Label returns the name shown to users.
func (s Stage) Label() string {
	switch s {
	case StageDatabase:
		return "Database"
	case StageRuntime:
		return "Java runtime"
	case StageApplication:
		return "BookLore server"
	}
	return "Unknown stage"
}

// ParseStage maps a wire name back to its Stage.
func ParseStage(name string) (Stage, bool) {
	for _, s := range Stages {
		if s.String() == name {
			return s, true
		}
	}
	return -1, false
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(b []byte) error {
	st, ok := ParseStage(string(b))
	if !ok {
		return fmt.Errorf("unknown stage %q", b)
	}
	*s = st
	return nil
}

// Status is the per-stage progress marker reported to the UI.
// Transitions only move forward: Pending -> Active -> Complete | Error.
type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusComplete
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusComplete:
		return "complete"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Terminal reports whether no further transition is allowed within a pass.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range []Status{StatusPending, StatusActive, StatusComplete, StatusError} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// DatabaseState is the lifecycle of the database server within one run.
type DatabaseState string

const (
	DBUninitialized    DatabaseState = "UNINITIALIZED"
	DBInitializing     DatabaseState = "INITIALIZING"
	DBStarting         DatabaseState = "STARTING"
	DBWaitingForSocket DatabaseState = "WAITING_FOR_SOCKET"
	DBReady            DatabaseState = "READY"
	DBFailed           DatabaseState = "FAILED"
)

// Defaults shared by the config layer and the supervisors.
const (
	AppName = "BookLore"

	EnvPrefix = "BOOKLORE_RUNNER"

	DefaultApplicationPort = 18080
	DefaultJavaVersion     = 21
	DefaultAdoptiumAPI     = "https://api.adoptium.net/v3/binary/latest"
	DefaultHealthPath      = "/api/v1/healthcheck"
	DefaultSchema          = "booklore"
	DefaultDatabaseUser    = "root"
	DefaultMariaDBVersion  = "11.4.5"
	DefaultMariaDBArchive  = "https://archive.mariadb.org"

	DefaultPollInterval    = 1 * time.Second
	DefaultDBMaxAttempts   = 60
	DefaultAppMaxAttempts  = 60
	DefaultAppStopGrace    = 5 * time.Second
	DefaultDBStopGrace     = 10 * time.Second
	DefaultDownloadTimeout = 10 * time.Minute

	LogTailLines = 20
)

// Personal.AI order the ending
