// Package config defines Options, the client's external configuration
// surface, and validates raw JSON against a JSON Schema before
// decoding — the same compile-then-validate-then-decode discipline
// the donor's internal/config/validate.go uses for its own config
// object.
package config

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ConfigurationError is raised synchronously from construction when
// an option is missing or out of range.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Options is the client's full external configuration surface, per
// SPEC_FULL.md §6. Unrecognized JSON fields are ignored, not rejected.
type Options struct {
	WorkspaceID string `json:"workspaceId"`
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	ServerURL   string `json:"serverUrl"`
	SyncMode    string `json:"syncMode"`

	AutoReconnect        bool  `json:"autoReconnect"`
	MaxReconnectAttempts int   `json:"maxReconnectAttempts"`
	ReconnectBaseDelayMs int64 `json:"reconnectBaseDelay"`
	MaxReconnectDelayMs  int64 `json:"maxReconnectDelay"`
	ConnectionTimeoutMs  int64 `json:"connectionTimeout"`
	HeartbeatIntervalMs  int64 `json:"heartbeatInterval"`
	MaxQueueSize         int   `json:"maxQueueSize"`
	Debug                bool  `json:"debug"`
}

const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "workspaceId": {"type": "string", "minLength": 1},
    "token": {"type": "string"},
    "userId": {"type": "string"},
    "serverUrl": {"type": "string"},
    "syncMode": {"type": "string", "enum": ["crdt", "lww"]},
    "autoReconnect": {"type": "boolean"},
    "maxReconnectAttempts": {"type": "integer", "minimum": 0},
    "reconnectBaseDelay": {"type": "integer", "minimum": 0},
    "maxReconnectDelay": {"type": "integer", "minimum": 0},
    "connectionTimeout": {"type": "integer", "minimum": 0},
    "heartbeatInterval": {"type": "integer", "minimum": 0},
    "maxQueueSize": {"type": "integer", "minimum": 0},
    "debug": {"type": "boolean"}
  },
  "required": ["workspaceId"]
}`

var compiledSchema *jsonschema.Schema

func init() {
	s, err := jsonschema.CompileString("options.schema.json", schemaJSON)
	if err != nil {
		panic(fmt.Sprintf("config: invalid embedded schema: %v", err))
	}
	compiledSchema = s
}

// Defaults mirrors the default column of SPEC_FULL.md §6's option
// table.
func Defaults() Options {
	return Options{
		UserID:               "user-" + randomSuffix(8),
		ServerURL:            "wss://api.nmeshed.com",
		SyncMode:             "crdt",
		AutoReconnect:        true,
		MaxReconnectAttempts: 10,
		ReconnectBaseDelayMs: 1000,
		MaxReconnectDelayMs:  30000,
		ConnectionTimeoutMs:  10000,
		HeartbeatIntervalMs:  30000,
		MaxQueueSize:         1000,
	}
}

// Parse validates raw JSON against the schema, decodes it over the
// defaults, and re-validates the required non-empty fields the schema
// alone cannot express (e.g. "exactly one of token or an injected
// AuthProvider").
func Parse(raw json.RawMessage, hasAuthProvider bool) (Options, error) {
	opts := Defaults()

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Options{}, &ConfigurationError{Field: "<root>", Reason: "not valid JSON: " + err.Error()}
	}
	if err := compiledSchema.Validate(v); err != nil {
		return Options{}, &ConfigurationError{Field: "<root>", Reason: err.Error()}
	}

	if err := json.Unmarshal(raw, &opts); err != nil {
		return Options{}, &ConfigurationError{Field: "<root>", Reason: err.Error()}
	}

	if err := validateSemantics(opts, hasAuthProvider); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func validateSemantics(o Options, hasAuthProvider bool) error {
	if o.WorkspaceID == "" {
		return &ConfigurationError{Field: "workspaceId", Reason: "must not be empty"}
	}
	if o.Token == "" && !hasAuthProvider {
		return &ConfigurationError{Field: "token", Reason: "required unless an auth provider is injected"}
	}
	if o.Token != "" && hasAuthProvider {
		return &ConfigurationError{Field: "token", Reason: "exactly one of token or an auth provider is allowed, not both"}
	}
	if o.MaxReconnectAttempts < 0 {
		return &ConfigurationError{Field: "maxReconnectAttempts", Reason: "must be non-negative"}
	}
	return nil
}

func (o Options) ReconnectBaseDelay() time.Duration {
	return time.Duration(o.ReconnectBaseDelayMs) * time.Millisecond
}

func (o Options) MaxReconnectDelay() time.Duration {
	return time.Duration(o.MaxReconnectDelayMs) * time.Millisecond
}

func (o Options) ConnectionTimeout() time.Duration {
	return time.Duration(o.ConnectionTimeoutMs) * time.Millisecond
}

func (o Options) HeartbeatInterval() time.Duration {
	return time.Duration(o.HeartbeatIntervalMs) * time.Millisecond
}

const randomSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = randomSuffixAlphabet[rand.Intn(len(randomSuffixAlphabet))]
	}
	return string(out)
}
