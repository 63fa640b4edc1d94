package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config captures all command-line options required to run a conversion or
// the HTTP shell.
type Config struct {
	MboxPath      string
	OutputPath    string
	Listen        string
	Workers       int
	Framing       string
	Dedupe        bool
	StateDir      string
	HTMLFallback  bool
	BareAddresses bool
	CRLF          bool
	BOM           bool
	AgeRecipients []string
	LogLevel      string
	LogDir        string
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// RegisterFlags attaches the conversion flags to the root command. --mbox is
// not marked required so a --config file can provide it; LoadConfig checks it.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("mbox", "", "Path to the .mbox file to convert (gzip-compressed archives are detected)")
	flags.String("output", "", "Path of the CSV file to write (default: <mbox basename>.csv)")
	flags.StringArray("age-recipient", nil, "Encrypt the CSV to this age recipient (repeatable)")
	flags.String("state-dir", "", "Directory remembering exported messages so later runs skip them")
	registerCommon(flags)
}

// RegisterServeFlags attaches the flags of the HTTP shell.
func RegisterServeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("listen", ":5000", "Address the HTTP server listens on")
	registerCommon(flags)
}

func registerCommon(flags *pflag.FlagSet) {
	flags.Int("workers", runtime.NumCPU(), "Number of messages parsed concurrently")
	flags.String("framing", "lenient", "Message framing: lenient or strict")
	flags.Bool("dedupe", false, "Drop messages whose raw bytes were already converted in this run")
	flags.Bool("html-fallback", false, "Convert the HTML part to text when a message has no plain-text part")
	flags.Bool("bare-addresses", false, "Reduce From, To and Cc to normalized addresses")
	flags.Bool("crlf", true, "Terminate CSV rows with CRLF (line breaks inside fields become CRLF as well)")
	flags.Bool("bom", false, "Prefix the CSV with a UTF-8 byte order mark")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (logs go to stdout only when empty)")
	flags.String("config", "", "YAML file with default flag values")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// LoadConfig converts the parsed Cobra flags into a Config struct with
// validation. Values from --config fill in every flag not set explicitly.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	if configPath != "" {
		if err := applyFile(flags, configPath); err != nil {
			return Config{}, err
		}
	}

	cfg := Config{}
	strs := []struct {
		name string
		dst  *string
	}{
		{"mbox", &cfg.MboxPath},
		{"output", &cfg.OutputPath},
		{"listen", &cfg.Listen},
		{"state-dir", &cfg.StateDir},
		{"framing", &cfg.Framing},
		{"log-level", &cfg.LogLevel},
		{"log-dir", &cfg.LogDir},
	}
	for _, s := range strs {
		if flags.Lookup(s.name) == nil {
			continue
		}
		if *s.dst, err = flags.GetString(s.name); err != nil {
			return Config{}, err
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"dedupe", &cfg.Dedupe},
		{"html-fallback", &cfg.HTMLFallback},
		{"bare-addresses", &cfg.BareAddresses},
		{"crlf", &cfg.CRLF},
		{"bom", &cfg.BOM},
	}
	for _, b := range bools {
		if *b.dst, err = flags.GetBool(b.name); err != nil {
			return Config{}, err
		}
	}

	arrays := []struct {
		name string
		dst  *[]string
	}{
		{"age-recipient", &cfg.AgeRecipients},
		{"include-header", &cfg.IncludeHeader},
		{"include-body", &cfg.IncludeBody},
		{"exclude-header", &cfg.ExcludeHeader},
		{"exclude-body", &cfg.ExcludeBody},
	}
	for _, a := range arrays {
		if flags.Lookup(a.name) == nil {
			continue
		}
		if *a.dst, err = flags.GetStringArray(a.name); err != nil {
			return Config{}, err
		}
	}

	if cfg.Workers, err = flags.GetInt("workers"); err != nil {
		return Config{}, err
	}

	if cfg.MboxPath != "" && cfg.OutputPath == "" {
		cfg.OutputPath = DefaultOutputPath(cfg.MboxPath)
	}
	if cfg.StateDir != "" {
		cfg.StateDir = filepath.Clean(cfg.StateDir)
	}

	cfg.Framing = strings.ToLower(cfg.Framing)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultOutputPath places <basename>.csv next to the archive.
func DefaultOutputPath(mboxPath string) string {
	base := filepath.Base(mboxPath)
	for _, ext := range []string{".gz", ".mbox"} {
		base = strings.TrimSuffix(base, ext)
	}
	return filepath.Join(filepath.Dir(mboxPath), base+".csv")
}

// applyFile sets every flag named in the YAML file that was not given on the
// command line. Lists set a repeatable flag once per item.
func applyFile(flags *pflag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	for name, value := range values {
		if name == "config" {
			return fmt.Errorf("config file %s: nested config is not supported", path)
		}
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("config file %s: unknown option %q", path, name)
		}
		if flag.Changed {
			continue
		}

		items, ok := value.([]any)
		if !ok {
			items = []any{value}
		}
		for _, item := range items {
			if err := flags.Set(name, fmt.Sprint(item)); err != nil {
				return fmt.Errorf("config file %s: %s: %w", path, name, err)
			}
		}
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.MboxPath == "" && cfg.Listen == "" {
		return fmt.Errorf("--mbox is required")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be positive")
	}
	switch cfg.Framing {
	case "lenient", "strict":
	default:
		return fmt.Errorf("invalid --framing: %s", cfg.Framing)
	}
	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}
	if cfg.MboxPath != "" && filepath.Clean(cfg.OutputPath) == filepath.Clean(cfg.MboxPath) {
		return fmt.Errorf("--output must differ from --mbox")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
