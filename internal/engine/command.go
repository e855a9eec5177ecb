package engine

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// engineInfo holds install metadata for a known engine interpreter.
type engineInfo struct {
	// Install is a URL or command that makes the binary available.
	Install string
	// Module is the Python package the runner imports, if any.
	Module string
}

// knownEngines maps interpreter names to their install metadata.
var knownEngines = map[string]engineInfo{
	"python3": {Install: "https://www.python.org/downloads/", Module: "TyphonBreaker"},
	"python":  {Install: "https://www.python.org/downloads/", Module: "TyphonBreaker"},
}

// ErrEngineUnavailable is returned when the engine command cannot be
// started. It includes actionable install instructions when the
// interpreter is known.
type ErrEngineUnavailable struct {
	Name   string // missing binary or script
	Script bool   // true if Name is the runner script, not the interpreter
	Info   *engineInfo
}

// NewErrEngineUnavailable builds the error for a missing binary.
func NewErrEngineUnavailable(name string) ErrEngineUnavailable {
	e := ErrEngineUnavailable{Name: name}
	if info, ok := knownEngines[filepath.Base(name)]; ok {
		e.Info = &info
	}
	return e
}

func (e ErrEngineUnavailable) Error() string {
	var b strings.Builder
	if e.Script {
		fmt.Fprintf(&b, "engine runner script %s does not exist.", e.Name)
		fmt.Fprintf(&b, "\nSet engine.command in .typhonweb.yaml or TYPHON_ENGINE_COMMAND.")
		return b.String()
	}

	fmt.Fprintf(&b, "%s is required but not installed.", e.Name)
	if e.Info == nil {
		return b.String()
	}
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "\nInstall: %s", e.Info.Install)
	if e.Info.Module != "" {
		fmt.Fprintf(&b, "\nThen:    %s -m pip install %s", e.Name, e.Info.Module)
	}
	return b.String()
}

// ResolveCommand checks that argv can be started from dir. The binary is
// looked up on PATH (or taken as a path when it contains a separator); for
// interpreters, a script argument ending in ".py" must exist relative to
// dir. It returns argv with the binary replaced by its resolved path.
func ResolveCommand(argv []string, dir string) ([]string, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty engine command")
	}

	bin, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, NewErrEngineUnavailable(argv[0])
	}

	for _, arg := range argv[1:] {
		if !strings.HasSuffix(arg, ".py") {
			continue
		}
		path := arg
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, ErrEngineUnavailable{Name: path, Script: true}
		}
		break
	}

	out := append([]string{bin}, argv[1:]...)
	return out, nil
}
