package runner

import "time"

// Result holds the output of a command execution.
type Result struct {
	RunID     string        // unique identifier for this run
	ExitCode  int           // process exit code; -1 when killed by the context
	Stdout    []byte        // captured stdout when not streamed (may be truncated)
	Stderr    []byte        // captured stderr (may be truncated)
	Truncated bool          // true if output exceeded the size cap
	TimedOut  bool          // true if the deadline expired before the process exited
	Timeout   time.Duration // time limit that applied; zero if none
	Duration  time.Duration // wall time from start to exit
}
