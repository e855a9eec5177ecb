// Package scope resolves the symbolic tokens a user may place in a run's
// local_scope mapping ("@builtin:list", "@module:os", ...) into references
// the engine understands. The registry is a closed lookup table.
package scope

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownToken is returned when a value uses a token prefix but names
// nothing in the registry.
var ErrUnknownToken = errors.New("unknown scope token")

// Kind classifies a reference.
type Kind string

const (
	Builtin   Kind = "builtin"
	Module    Kind = "module"
	Exception Kind = "exception"
)

// prefixes maps token prefixes to the kind they normally produce.
var prefixes = []struct {
	prefix string
	kind   Kind
}{
	{"@builtin:", Builtin},
	{"@module:", Module},
	{"@exception:", Exception},
}

// Ref is a resolved token as sent to the engine.
type Ref struct {
	Kind Kind   `json:"$typhon_ref"`
	Name string `json:"name"`
}

// Registry maps tokens to references.
type Registry struct {
	refs map[string]Ref
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{refs: make(map[string]Ref)}
}

// Register adds token. It panics on a malformed token, since registries
// are built from static tables.
func (r *Registry) Register(token string, ref Ref) {
	if !IsToken(token) {
		panic(fmt.Sprintf("scope: %q is not a token", token))
	}
	r.refs[token] = ref
}

var (
	builtinTypes = []string{
		"list", "dict", "set", "tuple", "str", "int", "float", "bool",
		"bytes", "object", "type", "frozenset",
	}
	exceptions = []string{
		"Exception", "BaseException", "ValueError", "TypeError", "KeyError",
		"NameError", "AttributeError", "RuntimeError",
	}
	modules = []string{
		"os", "sys", "subprocess", "builtins", "posix", "io", "importlib",
		"pty", "socket", "codecs",
	}
)

// Default returns the registry of tokens the console accepts.
func Default() *Registry {
	r := New()
	for _, name := range builtinTypes {
		r.Register("@builtin:"+name, Ref{Kind: Builtin, Name: name})
	}
	for _, name := range exceptions {
		// Exception classes are reachable from both prefixes.
		r.Register("@builtin:"+name, Ref{Kind: Exception, Name: name})
		r.Register("@exception:"+name, Ref{Kind: Exception, Name: name})
	}
	for _, name := range modules {
		r.Register("@module:"+name, Ref{Kind: Module, Name: name})
	}
	return r
}

// IsToken reports whether s uses one of the token prefixes.
func IsToken(s string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p.prefix) && len(s) > len(p.prefix) {
			return true
		}
	}
	return false
}

// Lookup returns the reference for token.
func (r *Registry) Lookup(token string) (Ref, bool) {
	ref, ok := r.refs[token]
	return ref, ok
}

// Tokens returns every registered token, sorted.
func (r *Registry) Tokens() []string {
	out := make([]string, 0, len(r.refs))
	for t := range r.refs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Resolve returns a copy of v with every token string replaced by its Ref.
// v is a decoded JSON value: maps, slices, strings, numbers, bools or nil.
// Strings that do not use a token prefix are literals.
func (r *Registry) Resolve(v any) (any, error) {
	return r.resolve(v, "local_scope")
}

func (r *Registry) resolve(v any, path string) (any, error) {
	switch t := v.(type) {
	case string:
		if !IsToken(t) {
			return t, nil
		}
		ref, ok := r.refs[t]
		if !ok {
			return nil, &TokenError{Token: t, Path: path}
		}
		return ref, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			rv, err := r.resolve(val, path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			rv, err := r.resolve(val, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveMap is Resolve for a top-level mapping. A nil map stays nil.
func (r *Registry) ResolveMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	v, err := r.Resolve(m)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// TokenError reports an unregistered token and where it was found.
type TokenError struct {
	Token string
	Path  string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("%s %q at %s", ErrUnknownToken, e.Token, e.Path)
}

func (e *TokenError) Unwrap() error { return ErrUnknownToken }
