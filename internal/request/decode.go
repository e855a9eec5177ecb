package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode builds a RunRequest from the loosely typed values a browser form
// submits. Booleans accept true/1/yes/on, integers accept numeric strings,
// and list fields accept arrays or comma/newline separated strings.
// Missing values take their defaults; the timeout is clamped to
// [MinTimeoutSec, MaxTimeoutSec].
func Decode(form map[string]any) (*RunRequest, error) {
	if form == nil {
		form = map[string]any{}
	}

	mode := Mode(strings.ToLower(strings.TrimSpace(toString(form["mode"], string(RCE)))))
	if mode != RCE && mode != Read {
		return nil, invalid("mode", "error.mode")
	}

	rceMethod := strings.ToLower(strings.TrimSpace(toString(form["rce_method"], DefaultRCEMethod)))
	if mode == Read && rceMethod != "exec" && rceMethod != "eval" {
		return nil, invalid("rce_method", "error.rce_method")
	}

	localScope, err := parseScope(form["local_scope"])
	if err != nil {
		return nil, err
	}

	timeout := toInt(form["timeout_sec"], DefaultTimeoutSec)
	timeout = max(MinTimeoutSec, min(timeout, MaxTimeoutSec))

	logLevel := strings.ToUpper(strings.TrimSpace(toString(form["log_level"], DefaultLogLevel)))
	if !slices.Contains(LogLevels, logLevel) {
		logLevel = DefaultLogLevel
	}

	var maxLength *int
	if v, ok := toOptionalInt(form["max_length"]); ok {
		maxLength = &v
	}

	req := &RunRequest{
		Mode:                 mode,
		Command:              strings.TrimSpace(toString(form["cmd"], "")),
		FilePath:             strings.TrimSpace(toString(form["filepath"], "")),
		RCEMethod:            rceMethod,
		IsAllowExceptionLeak: toBool(form["is_allow_exception_leak"], true),
		AllowUnicodeBypass:   toBool(form["allow_unicode_bypass"], false),
		LocalScope:           localScope,
		WAF: WAFRules{
			BannedChr:  toList(form["banned_chr"]),
			AllowedChr: toList(form["allowed_chr"]),
			BannedRe:   toList(form["banned_re"]),
			BannedAST:  toList(form["banned_ast"]),
			MaxLength:  maxLength,
		},
		Settings: Settings{
			Depth:           toInt(form["depth"], DefaultDepth),
			RecursionLimit:  toInt(form["recursion_limit"], DefaultRecursionLimit),
			TimeoutSec:      timeout,
			LogLevel:        logLevel,
			Interactive:     toBool(form["interactive"], true),
			PrintAllPayload: toBool(form["print_all_payload"], false),
		},
	}

	if err := validate.Struct(req); err != nil {
		return nil, translate(err)
	}
	return req, nil
}

// DecodeJSON decodes a JSON object body and passes it to Decode.
func DecodeJSON(data []byte) (*RunRequest, error) {
	var form map[string]any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&form); err != nil {
		return nil, &ValidationError{Field: "body", Key: "error.bad_body", Err: err}
	}
	return Decode(form)
}

// translate maps the first validator failure to a ValidationError.
func translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validating request: %w", err)
	}
	fe := verrs[0]
	ve := &ValidationError{Field: fe.Field(), Err: err}
	switch {
	case fe.Field() == "cmd" && fe.Tag() == "required_if":
		ve.Key = "error.cmd_required"
	case fe.Field() == "filepath" && fe.Tag() == "required_if":
		ve.Key = "error.filepath_required"
	case fe.Field() == "mode":
		ve.Key = "error.mode"
	default:
		ve.Key = "error.invalid_field"
		ve.Args = []any{fe.Field()}
	}
	return ve
}

func parseScope(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return normalizeNumbers(t).(map[string]any), nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		var loaded any
		if err := json.Unmarshal([]byte(t), &loaded); err != nil {
			return nil, &ValidationError{Field: "local_scope", Key: "error.scope_json", Args: []any{err}, Err: err}
		}
		m, ok := loaded.(map[string]any)
		if !ok {
			return nil, invalid("local_scope", "error.scope_object")
		}
		return m, nil
	default:
		return nil, invalid("local_scope", "error.scope_type")
	}
}

// normalizeNumbers converts json.Number values left by DecodeJSON back to
// float64 so scope values look the same however the request arrived.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeNumbers(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeNumbers(val)
		}
		return out
	default:
		return v
	}
}

func toString(v any, def string) string {
	switch t := v.(type) {
	case nil:
		return def
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func toBool(v any, def bool) bool {
	switch t := v.(type) {
	case nil:
		return def
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true
		}
		return false
	default:
		return def
	}
}

func toInt(v any, def int) int {
	if n, ok := toOptionalInt(v); ok {
		return n
	}
	return def
}

func toOptionalInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if f, err := t.Float64(); err == nil {
			return int(f), true
		}
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}

func toList(v any) []string {
	items := []string{}
	switch t := v.(type) {
	case nil:
	case []any:
		for _, item := range t {
			if s := strings.TrimSpace(toString(item, "")); s != "" {
				items = append(items, s)
			}
		}
	case []string:
		for _, item := range t {
			if s := strings.TrimSpace(item); s != "" {
				items = append(items, s)
			}
		}
	case string:
		normalized := strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(t)
		for _, line := range strings.Split(normalized, "\n") {
			for _, token := range strings.Split(line, ",") {
				if s := strings.TrimSpace(token); s != "" {
					items = append(items, s)
				}
			}
		}
	default:
		if s := strings.TrimSpace(toString(t, "")); s != "" {
			items = append(items, s)
		}
	}
	return items
}
