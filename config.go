package gax

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/iancoleman/strcase"
	"google.golang.org/grpc/metadata"
	"gopkg.in/yaml.v3"
)

type (
	// ClientConfig is the decoded client configuration file: per service
	// interface, named retry code sets, named backoff parameters and
	// per-method settings.
	//
	// Example:
	//
	//	{"interfaces": {"google.example.v1.Library": {
	//	  "retry_codes": {"idempotent": ["DEADLINE_EXCEEDED", "UNAVAILABLE"]},
	//	  "retry_params": {"default": {"initial_retry_delay_millis": 100, ...}},
	//	  "methods": {"ListBooks": {"retry_codes_name": "idempotent",
	//	                            "retry_params_name": "default",
	//	                            "timeout_millis": 30000}}}}}
	ClientConfig struct {
		Interfaces map[string]*InterfaceConfig `json:"interfaces" yaml:"interfaces"`
	}

	// InterfaceConfig configures the methods of one service.
	InterfaceConfig struct {
		// RetryCodes maps a name to the status code names it retries.
		RetryCodes map[string][]string `json:"retry_codes,omitempty" yaml:"retry_codes,omitempty"`
		// RetryParams maps a name to backoff parameters.
		RetryParams map[string]*RetryParamsConfig `json:"retry_params,omitempty" yaml:"retry_params,omitempty"`
		// Methods maps a method name to its settings. In an override, a
		// method explicitly set to null disables its retries.
		Methods map[string]*MethodConfig `json:"methods,omitempty" yaml:"methods,omitempty"`
	}

	// RetryParamsConfig holds backoff parameters in milliseconds.
	RetryParamsConfig struct {
		InitialRetryDelayMillis int64   `json:"initial_retry_delay_millis" yaml:"initial_retry_delay_millis"`
		RetryDelayMultiplier    float64 `json:"retry_delay_multiplier" yaml:"retry_delay_multiplier"`
		MaxRetryDelayMillis     int64   `json:"max_retry_delay_millis" yaml:"max_retry_delay_millis"`
		InitialRPCTimeoutMillis int64   `json:"initial_rpc_timeout_millis" yaml:"initial_rpc_timeout_millis"`
		RPCTimeoutMultiplier    float64 `json:"rpc_timeout_multiplier" yaml:"rpc_timeout_multiplier"`
		MaxRPCTimeoutMillis     int64   `json:"max_rpc_timeout_millis" yaml:"max_rpc_timeout_millis"`
		TotalTimeoutMillis      int64   `json:"total_timeout_millis" yaml:"total_timeout_millis"`
	}

	// MethodConfig configures one method.
	MethodConfig struct {
		RetryCodesName  string `json:"retry_codes_name,omitempty" yaml:"retry_codes_name,omitempty"`
		RetryParamsName string `json:"retry_params_name,omitempty" yaml:"retry_params_name,omitempty"`
		TimeoutMillis   int64  `json:"timeout_millis,omitempty" yaml:"timeout_millis,omitempty"`
		// Bundling configures bundle thresholds. In an override, an
		// explicit null disables bundling.
		Bundling *BundlingConfig `json:"bundling,omitempty" yaml:"bundling,omitempty"`

		bundlingSet bool
	}

	// BundlingConfig holds bundle thresholds and limits.
	BundlingConfig struct {
		ElementCountThreshold int   `json:"element_count_threshold" yaml:"element_count_threshold"`
		ElementCountLimit     int   `json:"element_count_limit" yaml:"element_count_limit"`
		RequestByteThreshold  int   `json:"request_byte_threshold" yaml:"request_byte_threshold"`
		RequestByteLimit      int   `json:"request_byte_limit" yaml:"request_byte_limit"`
		DelayThresholdMillis  int64 `json:"delay_threshold_millis" yaml:"delay_threshold_millis"`
	}
)

// UnmarshalJSON decodes the method and records whether "bundling" was
// present, so that an explicit null can be told apart from an absent key.
func (m *MethodConfig) UnmarshalJSON(data []byte) error {
	type plain MethodConfig

	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err //nolint:wrapcheck // decoder error already names the field
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err //nolint:wrapcheck // decoder error already names the field
	}

	*m = MethodConfig(p)
	_, m.bundlingSet = keys["bundling"]

	return nil
}

// Backoff converts the parameters to [BackoffSettings].
func (p *RetryParamsConfig) Backoff() BackoffSettings {
	return BackoffSettings{
		InitialRetryDelay:        millis(p.InitialRetryDelayMillis),
		RetryDelayMultiplier:     p.RetryDelayMultiplier,
		MaxRetryDelay:            millis(p.MaxRetryDelayMillis),
		InitialAttemptTimeout:    millis(p.InitialRPCTimeoutMillis),
		AttemptTimeoutMultiplier: p.RPCTimeoutMultiplier,
		MaxAttemptTimeout:        millis(p.MaxRPCTimeoutMillis),
		TotalTimeout:             millis(p.TotalTimeoutMillis),
	}
}

// Options converts the config to [BundleOptions].
func (b *BundlingConfig) Options() BundleOptions {
	return BundleOptions{
		ElementCountThreshold: b.ElementCountThreshold,
		ElementCountLimit:     b.ElementCountLimit,
		RequestByteThreshold:  b.RequestByteThreshold,
		RequestByteLimit:      b.RequestByteLimit,
		DelayThreshold:        millis(b.DelayThresholdMillis),
	}
}

func millis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

// Validate checks every code name, backoff and bundling configuration so
// that errors surface at load time.
func (c *ClientConfig) Validate() error {
	for service, ic := range c.Interfaces {
		if ic == nil {
			continue
		}

		for name, names := range ic.RetryCodes {
			if _, err := parseCodeSet(names); err != nil {
				return fmt.Errorf("interface %s: retry_codes %q: %w", service, name, err)
			}
		}

		for name, params := range ic.RetryParams {
			if params == nil {
				continue
			}

			if err := params.Backoff().Validate(); err != nil {
				return fmt.Errorf("interface %s: retry_params %q: %w", service, name, err)
			}
		}

		for name, mc := range ic.Methods {
			if mc == nil || mc.Bundling == nil {
				continue
			}

			if err := mc.Bundling.Options().Validate(); err != nil {
				return fmt.Errorf("interface %s: method %s: bundling: %w", service, name, err)
			}
		}
	}

	return nil
}

// LoadClientConfig reads and validates a client configuration file. Files
// ending in .yaml or .yml are decoded as YAML, anything else as JSON.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gax: read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAMLConfig(data)
	default:
		return ParseJSONConfig(data)
	}
}

// ParseJSONConfig decodes and validates a JSON client configuration.
func ParseJSONConfig(data []byte) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("gax: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gax: %w", err)
	}

	return &cfg, nil
}

// ParseYAMLConfig decodes and validates a YAML client configuration. The
// document goes through the JSON decoder so that nulls mean the same in
// both formats.
func ParseYAMLConfig(data []byte) (*ClientConfig, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("gax: parse config: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("gax: parse config: %w", err)
	}

	return ParseJSONConfig(raw)
}

// SettingsOptions supplies what a client config cannot express: which
// methods are paginated or bundleable, metadata sent with every call, and
// the options of the executors created for bundled methods.
type SettingsOptions struct {
	// PageDescriptors and BundleDescriptors are keyed by snake_case
	// method name, e.g. "list_books".
	PageDescriptors   map[string]*PageDescriptor
	BundleDescriptors map[string]*BundleDescriptor
	Metadata          metadata.MD
	ExecutorOptions   []Option
}

// ConstructSettings resolves the settings of every method of service,
// keyed by snake_case method name.
//
// An override, which may be nil, is applied per method: a non-zero
// timeout_millis replaces the timeout; retry codes and parameters named by
// the override method are looked up in the override first; a method set to
// null disables retrying; "bundling": null disables bundling. Bundling is
// only enabled for methods with a bundle descriptor.
func ConstructSettings(
	service string,
	config, override *ClientConfig,
	opts SettingsOptions,
) (map[string]CallSettings, error) {
	ic := config.Interfaces[service]
	if ic == nil {
		return nil, fmt.Errorf("gax: interface %s is not configured", service)
	}

	var oc *InterfaceConfig
	if override != nil {
		oc = override.Interfaces[service]
	}

	if oc == nil {
		oc = &InterfaceConfig{}
	}

	defaults := make(map[string]CallSettings, len(ic.Methods))

	for name, mc := range ic.Methods {
		if mc == nil {
			continue
		}

		snake := strcase.ToSnake(name)

		settings, err := constructMethod(ic, oc, name, mc, opts.BundleDescriptors[snake], opts)
		if err != nil {
			return nil, fmt.Errorf("gax: method %s: %w", name, err)
		}

		settings.PageDescriptor = opts.PageDescriptors[snake]

		if err := settings.Validate(); err != nil {
			return nil, fmt.Errorf("gax: method %s: %w", name, err)
		}

		defaults[snake] = settings
	}

	return defaults, nil
}

func constructMethod(
	ic, oc *InterfaceConfig,
	name string,
	mc *MethodConfig,
	bundleDesc *BundleDescriptor,
	opts SettingsOptions,
) (CallSettings, error) {
	om, overridden := oc.Methods[name]

	settings := CallSettings{
		Timeout:  DefaultTimeout,
		Metadata: opts.Metadata.Copy(),
	}

	if mc.TimeoutMillis > 0 {
		settings.Timeout = millis(mc.TimeoutMillis)
	}

	if om != nil && om.TimeoutMillis > 0 {
		settings.Timeout = millis(om.TimeoutMillis)
	}

	if !overridden || om != nil {
		retry, err := mergeRetry(ic, oc, mc, om)
		if err != nil {
			return CallSettings{}, err
		}

		settings.Retry = retry
	}

	bundling := mc.Bundling
	if om != nil && om.bundlingSet {
		bundling = om.Bundling
	}

	if bundling != nil && bundleDesc != nil {
		executor, err := NewExecutor(bundling.Options(), opts.ExecutorOptions...)
		if err != nil {
			return CallSettings{}, fmt.Errorf("bundling: %w", err)
		}

		settings.BundleDescriptor = bundleDesc
		settings.Bundler = executor
	}

	return settings, nil
}

// mergeRetry builds the method's retry policy, preferring what the
// override method names in the override's tables.
func mergeRetry(ic, oc *InterfaceConfig, mc, om *MethodConfig) (*RetryPolicy, error) {
	if mc.RetryCodesName == "" && mc.RetryParamsName == "" {
		return nil, nil //nolint:nilnil // method without retries
	}

	codeNames, ok := ic.RetryCodes[mc.RetryCodesName]
	if !ok {
		return nil, fmt.Errorf("unknown retry_codes_name %q", mc.RetryCodesName)
	}

	params := ic.RetryParams[mc.RetryParamsName]
	if params == nil {
		return nil, fmt.Errorf("unknown retry_params_name %q", mc.RetryParamsName)
	}

	if om != nil {
		if names, found := lookupCodes(oc, ic, om.RetryCodesName); found {
			codeNames = names
		}

		if p := lookupParams(oc, ic, om.RetryParamsName); p != nil {
			params = p
		}
	}

	set, err := parseCodeSet(codeNames)
	if err != nil {
		return nil, err
	}

	return &RetryPolicy{Codes: set, Backoff: params.Backoff()}, nil
}

func lookupCodes(oc, ic *InterfaceConfig, name string) ([]string, bool) {
	if name == "" {
		return nil, false
	}

	if names, ok := oc.RetryCodes[name]; ok {
		return names, true
	}

	names, ok := ic.RetryCodes[name]

	return names, ok
}

func lookupParams(oc, ic *InterfaceConfig, name string) *RetryParamsConfig {
	if name == "" {
		return nil
	}

	if p := oc.RetryParams[name]; p != nil {
		return p
	}

	return ic.RetryParams[name]
}

func parseCodeSet(names []string) (CodeSet, error) {
	set := NewCodeSet()

	for _, name := range names {
		c, err := ParseCode(name)
		if err != nil {
			return nil, err
		}

		set[c] = struct{}{}
	}

	return set, nil
}
