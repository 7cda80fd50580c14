package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// EnvVarSpec represents a parsed environment variable reference
type EnvVarSpec struct {
	// VarName is the environment variable name (e.g., "ORCHESTRATOR_ADDRESS")
	VarName string

	HasDefault   bool
	DefaultValue string

	// IsLiteral is set for plain values that reference no variable
	IsLiteral    bool
	LiteralValue string
}

// envVarPattern matches ${VAR} and ${VAR:default} syntax
var envVarPattern = regexp.MustCompile(`^\$\{([A-Za-z0-9_-]*)(:[^}]*)?\}$`)

// ParseEnvVar parses a config value that may reference an environment variable.
//
// Supported formats:
//   - ${VAR}         - required environment variable
//   - ${VAR:default} - optional environment variable with default
//   - literal        - plain value
//
// Examples:
//
//	ParseEnvVar("${ORCHESTRATOR_ADDRESS}") -> required env var
//	ParseEnvVar("${OPS_ADDRESS::8081}")    -> env var with default ":8081"
//	ParseEnvVar("${invalid-name}")         -> error
func ParseEnvVar(value string) (*EnvVarSpec, error) {
	matches := envVarPattern.FindStringSubmatch(value)
	if matches == nil {
		return &EnvVarSpec{IsLiteral: true, LiteralValue: value}, nil
	}

	varName := matches[1]
	if !isValidEnvVarName(varName) {
		return nil, fmt.Errorf("invalid environment variable name: %q", varName)
	}

	spec := &EnvVarSpec{
		VarName:    varName,
		HasDefault: matches[2] != "",
	}
	if spec.HasDefault {
		spec.DefaultValue = strings.TrimPrefix(matches[2], ":")
	}
	return spec, nil
}

// Resolve looks the variable up in the process environment.
func (s *EnvVarSpec) Resolve() (string, error) {
	if s.IsLiteral {
		return s.LiteralValue, nil
	}
	if v, ok := os.LookupEnv(s.VarName); ok {
		return v, nil
	}
	if s.HasDefault {
		return s.DefaultValue, nil
	}
	return "", fmt.Errorf("required environment variable %s is not set", s.VarName)
}

// isValidEnvVarName checks if a string is a valid environment variable name
// Valid names: Start with A-Z or underscore, contain only A-Z, 0-9, underscore
func isValidEnvVarName(name string) bool {
	if name == "" {
		return false
	}

	first := name[0]
	if !((first >= 'A' && first <= 'Z') || first == '_') {
		return false
	}

	for i := 1; i < len(name); i++ {
		c := name[i]
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}

	return true
}

// resolveValues substitutes environment references in every string leaf of
// a decoded YAML document. path names the key for error messages.
func resolveValues(path string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		spec, err := ParseEnvVar(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		resolved, err := spec.Resolve()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return resolved, nil
	case map[string]any:
		for k, child := range v {
			r, err := resolveValues(join(path, k), child)
			if err != nil {
				return nil, err
			}
			v[k] = r
		}
		return v, nil
	case []any:
		for i, child := range v {
			r, err := resolveValues(fmt.Sprintf("%s[%d]", path, i), child)
			if err != nil {
				return nil, err
			}
			v[i] = r
		}
		return v, nil
	}
	return value, nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
