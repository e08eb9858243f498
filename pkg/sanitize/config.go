package sanitize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Validation error codes surfaced to the caller. These are machine-readable
// and stable; the bridge layer switches on them.
const (
	CodeNull        = "SANITIZER_CONFIG_NULL"
	CodeMissingKey  = "SANITIZER_CONFIG_MISSING_KEY"
	CodeInvalidType = "SANITIZER_CONFIG_INVALID_TYPE"
	CodeRange       = "SANITIZER_CONFIG_RANGE"
	CodeRegex       = "SANITIZER_CONFIG_REGEX"
	CodeUnexpected  = "SANITIZER_CONFIG_UNEXPECTED"
)

// MaxConfigurableLabelLength is the RFC 1035 single-label ceiling.
const MaxConfigurableLabelLength = 63

// DefaultZone is the chat backend zone substituted when the caller supplies a
// bare resolver IP instead of a zone.
const DefaultZone = "ch.at"

// DefaultAllowedServers mirrors the servers the application ships with.
var DefaultAllowedServers = []string{
	"llm.pieter.com",
	"ch.at",
	"8.8.8.8",
	"8.8.4.4",
	"1.1.1.1",
	"1.0.0.1",
}

// ConfigError is a coded validation failure. The config is never partially
// applied: any ConfigError means the previous config stays in force.
type ConfigError struct {
	Code string
	Msg  string
	Err  error
}

func (e *ConfigError) Error() string {
	return e.Code + ": " + e.Msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErr(code, format string, args ...any) *ConfigError {
	return &ConfigError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Rule is one compiled sanitizer regex with its original source and flags
// preserved for structural comparison.
type Rule struct {
	Source string
	Flags  string
	re     *regexp.Regexp
}

func (r Rule) replaceAll(s, repl string) string {
	return r.re.ReplaceAllString(s, repl)
}

// compileRule translates JS-style flags onto Go's inline flag syntax.
// 'u' is a no-op (RE2 character classes are Unicode-aware) and 'g' is implied
// by ReplaceAllString.
func compileRule(source, flags, key string) (Rule, error) {
	var prefix strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			prefix.WriteRune(f)
		case 'u', 'g':
		default:
			return Rule{}, configErr(CodeRange, "unsupported regex flag %q", string(f))
		}
	}
	expr := source
	if prefix.Len() > 0 {
		expr = "(?" + prefix.String() + ")" + source
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, &ConfigError{
			Code: CodeRegex,
			Msg:  fmt.Sprintf("invalid regex for %s: %s", key, source),
			Err:  err,
		}
	}
	return Rule{Source: source, Flags: flags, re: re}, nil
}

// Config is the immutable sanitizer rule set. Build it through ParseMap or
// Default; never mutate one in place.
type Config struct {
	Whitespace     Rule
	InvalidChars   Rule
	DashCollapse   Rule
	EdgeDashes     Rule
	CombiningMarks Rule

	SpaceReplacement string
	MaxLabelLength   int
	Normalization    string
	AllowedServers   map[string]struct{}

	form      norm.Form
	isDefault bool
}

// Default returns the built-in rule set used until the application pushes its
// shared constants.
func Default() *Config {
	cfg, err := buildConfig(map[string]rawRule{
		"whitespace":     {`\s+`, ""},
		"invalidChars":   {`[^a-z0-9-]`, ""},
		"dashCollapse":   {`-{2,}`, ""},
		"edgeDashes":     {`^-+|-+$`, ""},
		"combiningMarks": {`\p{M}+`, "u"},
	}, "-", MaxConfigurableLabelLength, "NFKD", DefaultAllowedServers)
	if err != nil {
		panic("sanitize: default config must compile: " + err.Error())
	}
	cfg.isDefault = true
	return cfg
}

// IsDefault reports whether this is the built-in rule set.
func (c *Config) IsDefault() bool {
	return c.isDefault
}

// Equal compares two configs structurally: rule sources and flags, limits,
// normalization form and allow-list membership.
func (c *Config) Equal(o *Config) bool {
	if c == o {
		return true
	}
	if c == nil || o == nil {
		return false
	}
	if c.SpaceReplacement != o.SpaceReplacement ||
		c.MaxLabelLength != o.MaxLabelLength ||
		c.Normalization != o.Normalization {
		return false
	}
	rules := [][2]Rule{
		{c.Whitespace, o.Whitespace},
		{c.InvalidChars, o.InvalidChars},
		{c.DashCollapse, o.DashCollapse},
		{c.EdgeDashes, o.EdgeDashes},
		{c.CombiningMarks, o.CombiningMarks},
	}
	for _, pair := range rules {
		if pair[0].Source != pair[1].Source || pair[0].Flags != pair[1].Flags {
			return false
		}
	}
	if len(c.AllowedServers) != len(o.AllowedServers) {
		return false
	}
	for host := range c.AllowedServers {
		if _, ok := o.AllowedServers[host]; !ok {
			return false
		}
	}
	return true
}

// AllowedServerList returns the allow-list sorted, for logging.
func (c *Config) AllowedServerList() []string {
	out := make([]string, 0, len(c.AllowedServers))
	for host := range c.AllowedServers {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}

type rawRule struct {
	pattern string
	flags   string
}

func buildConfig(rules map[string]rawRule, replacement string, maxLabel int, normalization string, allowed []string) (*Config, error) {
	form, err := parseForm(normalization)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		SpaceReplacement: replacement,
		MaxLabelLength:   maxLabel,
		Normalization:    strings.ToUpper(normalization),
		AllowedServers:   make(map[string]struct{}, len(allowed)),
		form:             form,
	}
	if cfg.Normalization == "" {
		cfg.Normalization = "NFKD"
	}
	for _, host := range allowed {
		normalized := NormalizeHostInput(host)
		if normalized != "" {
			cfg.AllowedServers[normalized] = struct{}{}
		}
	}
	if len(cfg.AllowedServers) == 0 {
		return nil, configErr(CodeRange, "allowedServers must contain at least one entry")
	}
	for key, dst := range map[string]*Rule{
		"whitespace":     &cfg.Whitespace,
		"invalidChars":   &cfg.InvalidChars,
		"dashCollapse":   &cfg.DashCollapse,
		"edgeDashes":     &cfg.EdgeDashes,
		"combiningMarks": &cfg.CombiningMarks,
	} {
		raw, ok := rules[key]
		if !ok {
			return nil, configErr(CodeMissingKey, "missing rule %q", key)
		}
		rule, err := compileRule(raw.pattern, raw.flags, key)
		if err != nil {
			return nil, err
		}
		*dst = rule
	}
	return cfg, nil
}

func parseForm(value string) (norm.Form, error) {
	switch strings.ToUpper(value) {
	case "", "NFKD":
		return norm.NFKD, nil
	case "NFC":
		return norm.NFC, nil
	case "NFD":
		return norm.NFD, nil
	case "NFKC":
		return norm.NFKC, nil
	default:
		return 0, configErr(CodeRange, "unsupported unicodeNormalization: %s", value)
	}
}

// ParseMap validates a loosely-typed configuration payload (the shape the
// bridge delivers) into a Config. Failures carry a ConfigError code and leave
// no partial state behind.
func ParseMap(m map[string]any) (*Config, error) {
	if m == nil {
		return nil, configErr(CodeNull, "sanitizer config map cannot be nil")
	}

	replacement, err := readString(m, "spaceReplacement")
	if err != nil {
		return nil, err
	}
	if replacement == "" {
		return nil, configErr(CodeRange, "spaceReplacement must be present and non-empty")
	}

	maxLabel, err := readInt(m, "maxLabelLength")
	if err != nil {
		return nil, err
	}
	if maxLabel <= 0 || maxLabel > MaxConfigurableLabelLength {
		return nil, configErr(CodeRange, "maxLabelLength must be between 1 and %d", MaxConfigurableLabelLength)
	}

	normalization, err := readString(m, "unicodeNormalization")
	if err != nil {
		return nil, err
	}

	allowed, err := readAllowedServers(m)
	if err != nil {
		return nil, err
	}

	rules := make(map[string]rawRule, 5)
	for _, key := range []string{"whitespace", "invalidChars", "dashCollapse", "edgeDashes", "combiningMarks"} {
		descriptor, err := readMap(m, key)
		if err != nil {
			return nil, err
		}
		pattern, err := readString(descriptor, "pattern")
		if err != nil {
			return nil, err
		}
		flags, err := readOptionalString(descriptor, "flags")
		if err != nil {
			return nil, err
		}
		rules[key] = rawRule{pattern: pattern, flags: flags}
	}

	return buildConfig(rules, replacement, maxLabel, normalization, allowed)
}

func readString(m map[string]any, key string) (string, error) {
	value, ok := m[key]
	if !ok || value == nil {
		return "", configErr(CodeMissingKey, "missing key %q in sanitizer config", key)
	}
	s, ok := value.(string)
	if !ok {
		return "", configErr(CodeInvalidType, "expected string for key %q", key)
	}
	return s, nil
}

func readOptionalString(m map[string]any, key string) (string, error) {
	value, ok := m[key]
	if !ok || value == nil {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", configErr(CodeInvalidType, "expected string for key %q", key)
	}
	return s, nil
}

func readInt(m map[string]any, key string) (int, error) {
	value, ok := m[key]
	if !ok || value == nil {
		return 0, configErr(CodeMissingKey, "missing key %q in sanitizer config", key)
	}
	// Payloads decoded from JSON or YAML deliver numbers as float64 or int.
	switch n := value.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, configErr(CodeInvalidType, "expected numeric value for key %q", key)
	}
}

func readMap(m map[string]any, key string) (map[string]any, error) {
	value, ok := m[key]
	if !ok || value == nil {
		return nil, configErr(CodeMissingKey, "missing key %q in sanitizer config", key)
	}
	sub, ok := value.(map[string]any)
	if !ok {
		return nil, configErr(CodeInvalidType, "expected map for key %q", key)
	}
	return sub, nil
}

func readAllowedServers(m map[string]any) ([]string, error) {
	value, ok := m["allowedServers"]
	if !ok || value == nil {
		return DefaultAllowedServers, nil
	}
	var entries []any
	switch v := value.(type) {
	case []any:
		entries = v
	case []string:
		entries = make([]any, len(v))
		for i, s := range v {
			entries[i] = s
		}
	default:
		return nil, configErr(CodeInvalidType, "expected array for key %q", "allowedServers")
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		s, ok := entry.(string)
		if !ok {
			return nil, configErr(CodeInvalidType, "expected string entries in %q", "allowedServers")
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, configErr(CodeRange, "allowedServers must contain at least one entry")
	}
	return out, nil
}
