// Package request models a Typhon run request as submitted by the console
// form, validates it, and assembles the configuration handed to the engine.
package request

import (
	"errors"
	"time"

	"github.com/deixis/typhonweb/internal/scope"
)

// Mode selects the engine entry point.
type Mode string

const (
	// RCE searches for a payload that executes Command (Typhon.bypassRCE).
	RCE Mode = "rce"
	// Read searches for a payload that reads FilePath (Typhon.bypassREAD).
	Read Mode = "read"
)

// Defaults and bounds for engine settings.
const (
	DefaultDepth          = 5
	DefaultRecursionLimit = 200
	DefaultTimeoutSec     = 90
	MinTimeoutSec         = 5
	MaxTimeoutSec         = 600
	DefaultLogLevel       = "INFO"
	DefaultRCEMethod      = "exec"
)

// LogLevels are the engine log levels the console accepts.
var LogLevels = []string{"DEBUG", "INFO", "QUIET"}

// RunRequest is one validated submission. It is not modified after Decode.
type RunRequest struct {
	Mode                 Mode           `json:"mode" validate:"oneof=rce read"`
	Command              string         `json:"cmd" validate:"required_if=Mode rce"`
	FilePath             string         `json:"filepath" validate:"required_if=Mode read"`
	RCEMethod            string         `json:"rce_method"`
	IsAllowExceptionLeak bool           `json:"is_allow_exception_leak"`
	AllowUnicodeBypass   bool           `json:"allow_unicode_bypass"`
	LocalScope           map[string]any `json:"local_scope"`
	WAF                  WAFRules       `json:"waf"`
	Settings             Settings       `json:"settings"`
}

// WAFRules constrain candidate payloads.
type WAFRules struct {
	BannedChr  []string `json:"banned_chr"`
	AllowedChr []string `json:"allowed_chr"`
	BannedRe   []string `json:"banned_re"`
	BannedAST  []string `json:"banned_ast"`
	MaxLength  *int     `json:"max_length" validate:"omitempty,gte=0"`
}

// Settings are the secondary engine tuning parameters.
type Settings struct {
	Depth           int    `json:"depth" validate:"gte=1"`
	RecursionLimit  int    `json:"recursion_limit" validate:"gte=1"`
	TimeoutSec      int    `json:"timeout_sec" validate:"gte=5,lte=600"`
	LogLevel        string `json:"log_level" validate:"oneof=DEBUG INFO QUIET"`
	Interactive     bool   `json:"interactive"`
	PrintAllPayload bool   `json:"print_all_payload"`
}

// Timeout returns the run timeout.
func (s Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// Target returns the command in RCE mode and the file path in READ mode.
func (r *RunRequest) Target() string {
	if r.Mode == Read {
		return r.FilePath
	}
	return r.Command
}

// EnginePayload is the configuration written to the engine's stdin.
type EnginePayload struct {
	Mode                 Mode          `json:"mode"`
	Cmd                  string        `json:"cmd"`
	FilePath             string        `json:"filepath"`
	RCEMethod            string        `json:"rce_method"`
	IsAllowExceptionLeak bool          `json:"is_allow_exception_leak"`
	Options              EngineOptions `json:"options"`
}

// EngineOptions mirror the keyword arguments of the engine's bypass calls.
type EngineOptions struct {
	LocalScope         map[string]any `json:"local_scope"`
	BannedChr          []string       `json:"banned_chr"`
	AllowedChr         []string       `json:"allowed_chr"`
	BannedAST          []string       `json:"banned_ast"`
	BannedRe           []string       `json:"banned_re"`
	MaxLength          *int           `json:"max_length"`
	AllowUnicodeBypass bool           `json:"allow_unicode_bypass"`
	PrintAllPayload    bool           `json:"print_all_payload"`
	Interactive        bool           `json:"interactive"`
	Depth              int            `json:"depth"`
	RecursionLimit     int            `json:"recursion_limit"`
	LogLevel           string         `json:"log_level"`
}

// Payload resolves local_scope tokens against reg and assembles the engine
// configuration. An unknown token fails with a *ValidationError wrapping
// scope.ErrUnknownToken.
func (r *RunRequest) Payload(reg *scope.Registry) (*EnginePayload, error) {
	resolved, err := reg.ResolveMap(r.LocalScope)
	if err != nil {
		ve := &ValidationError{Field: "local_scope", Key: "error.unknown_token", Err: err}
		var te *scope.TokenError
		if errors.As(err, &te) {
			ve.Args = []any{te.Token}
		}
		return nil, ve
	}

	return &EnginePayload{
		Mode:                 r.Mode,
		Cmd:                  r.Command,
		FilePath:             r.FilePath,
		RCEMethod:            r.RCEMethod,
		IsAllowExceptionLeak: r.IsAllowExceptionLeak,
		Options: EngineOptions{
			LocalScope:         resolved,
			BannedChr:          nonNil(r.WAF.BannedChr),
			AllowedChr:         nonNil(r.WAF.AllowedChr),
			BannedAST:          nonNil(r.WAF.BannedAST),
			BannedRe:           nonNil(r.WAF.BannedRe),
			MaxLength:          r.WAF.MaxLength,
			AllowUnicodeBypass: r.AllowUnicodeBypass,
			PrintAllPayload:    r.Settings.PrintAllPayload,
			Interactive:        r.Settings.Interactive,
			Depth:              r.Settings.Depth,
			RecursionLimit:     r.Settings.RecursionLimit,
			LogLevel:           r.Settings.LogLevel,
		},
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
