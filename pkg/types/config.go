package types

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Default endpoint templates. Each is an RFC 6570 URI template with a
// single {id} variable.
const (
	DefaultSequenceURL   = "https://rest.uniprot.org/uniprotkb/{id}.fasta"
	DefaultPredictionURL = "https://alphafold.ebi.ac.uk/files/AF-{id}-F1-model_v4.pdb"
	DefaultReferenceURL  = "https://files.rcsb.org/download/{id}.pdb"
)

// DefaultThreshold is the percent identity a candidate must reach to be
// compared.
const DefaultThreshold = 70.0

// HTTPConfig holds shared HTTP settings used by the retrieval client.
type HTTPConfig struct {
	// Timeout bounds a single request attempt.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "foldeval/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// RetrievalConfig holds settings for the retrieval client.
type RetrievalConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// SequenceURL, PredictionURL and ReferenceURL are the endpoint templates.
	SequenceURL   string `json:"sequence_url" yaml:"sequence_url" mapstructure:"sequence_url"`
	PredictionURL string `json:"prediction_url" yaml:"prediction_url" mapstructure:"prediction_url"`
	ReferenceURL  string `json:"reference_url" yaml:"reference_url" mapstructure:"reference_url"`

	// MaxRetries is the number of retries after a connection-level failure
	// (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// RetryBaseDelay is the first backoff delay; it doubles each attempt
	// (default 500ms).
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay" mapstructure:"retry_base_delay"`

	// CacheReferences skips re-fetching a reference structure already
	// fetched earlier in the same run.
	CacheReferences bool `json:"cache_references" yaml:"cache_references" mapstructure:"cache_references"`
}

// SearchConfig holds settings for the similarity search tool.
type SearchConfig struct {
	// Binary is the search executable (default "blastp").
	Binary string `json:"binary" yaml:"binary" mapstructure:"binary"`

	// DBCmdBinary inspects the database during preflight (default "blastdbcmd").
	DBCmdBinary string `json:"dbcmd_binary" yaml:"dbcmd_binary" mapstructure:"dbcmd_binary"`

	// Database is the reference structural database (default "pdbaa").
	Database string `json:"database" yaml:"database" mapstructure:"database"`

	// Image, when set, runs the tools inside this container image through
	// docker or podman instead of from PATH.
	Image string `json:"image,omitempty" yaml:"image,omitempty" mapstructure:"image"`

	// Threads is passed as -num_threads when greater than zero.
	Threads int `json:"threads,omitempty" yaml:"threads,omitempty" mapstructure:"threads"`
}

// AlignEngine selects the structural superposition engine.
type AlignEngine string

const (
	EngineKabsch AlignEngine = "kabsch"
	EnginePymol  AlignEngine = "pymol"
)

// AlignConfig holds settings for the structural comparator.
type AlignConfig struct {
	// Engine selects kabsch (in-process) or pymol (subprocess).
	Engine AlignEngine `json:"engine" yaml:"engine" mapstructure:"engine"`

	// PymolBinary is the PyMOL executable (default "pymol").
	PymolBinary string `json:"pymol_binary" yaml:"pymol_binary" mapstructure:"pymol_binary"`

	// Cycles is the number of outlier-rejection refinement cycles (default 5).
	Cycles int `json:"cycles" yaml:"cycles" mapstructure:"cycles"`

	// Cutoff rejects atom pairs whose deviation exceeds Cutoff times the
	// current RMSD during refinement (default 2.0).
	Cutoff float64 `json:"cutoff" yaml:"cutoff" mapstructure:"cutoff"`
}

// NotifyConfig holds completion notification settings. The SMTP password
// is never read from config; it comes from the secrets directory.
type NotifyConfig struct {
	SMTPHost string   `json:"smtp_host,omitempty" yaml:"smtp_host,omitempty" mapstructure:"smtp_host"`
	SMTPPort int      `json:"smtp_port,omitempty" yaml:"smtp_port,omitempty" mapstructure:"smtp_port"`
	Username string   `json:"username,omitempty" yaml:"username,omitempty" mapstructure:"username"`
	From     string   `json:"from,omitempty" yaml:"from,omitempty" mapstructure:"from"`
	To       []string `json:"to,omitempty" yaml:"to,omitempty" mapstructure:"to"`
	Subject  string   `json:"subject,omitempty" yaml:"subject,omitempty" mapstructure:"subject"`
}

// Enabled reports whether SMTP delivery is configured.
func (c NotifyConfig) Enabled() bool {
	return c.SMTPHost != "" && len(c.To) > 0
}

// RunConfig groups all settings for one evaluation run.
type RunConfig struct {
	// WorkDir is the flat artifact directory.
	WorkDir string `json:"work_dir" yaml:"work_dir" mapstructure:"work_dir"`

	// ReportName is the report filename inside WorkDir (default "rmsd.txt").
	ReportName string `json:"report_name" yaml:"report_name" mapstructure:"report_name"`

	// Threshold is the minimum percent identity, inclusive (default 70.0).
	Threshold float64 `json:"threshold" yaml:"threshold" mapstructure:"threshold"`

	// Parallel is the number of identifiers processed at once (default 1).
	Parallel int `json:"parallel" yaml:"parallel" mapstructure:"parallel"`

	// LedgerPath is the SQLite run ledger (default WorkDir/foldeval.db).
	// An explicit "-" disables the ledger.
	LedgerPath string `json:"ledger_path" yaml:"ledger_path" mapstructure:"ledger_path"`

	Retrieval RetrievalConfig `json:"retrieval" yaml:"retrieval" mapstructure:"retrieval"`
	Search    SearchConfig    `json:"search" yaml:"search" mapstructure:"search"`
	Align     AlignConfig     `json:"align" yaml:"align" mapstructure:"align"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify" mapstructure:"notify"`
}

// DefaultRunConfig returns the reference configuration.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		WorkDir:    "work",
		ReportName: "rmsd.txt",
		Threshold:  DefaultThreshold,
		Parallel:   1,
		Retrieval: RetrievalConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   60 * time.Second,
				UserAgent: "foldeval/0.1",
			},
			SequenceURL:     DefaultSequenceURL,
			PredictionURL:   DefaultPredictionURL,
			ReferenceURL:    DefaultReferenceURL,
			MaxRetries:      3,
			RetryBaseDelay:  500 * time.Millisecond,
			CacheReferences: true,
		},
		Search: SearchConfig{
			Binary:      "blastp",
			DBCmdBinary: "blastdbcmd",
			Database:    "pdbaa",
		},
		Align: AlignConfig{
			Engine:      EngineKabsch,
			PymolBinary: "pymol",
			Cycles:      5,
			Cutoff:      2.0,
		},
		Notify: NotifyConfig{
			SMTPPort: 465,
			Subject:  "Program complete",
		},
	}
}

// ReportPath returns the report file location.
func (c RunConfig) ReportPath() string {
	return filepath.Join(c.WorkDir, c.ReportName)
}

// SummaryPath returns the run summary file location.
func (c RunConfig) SummaryPath() string {
	return filepath.Join(c.WorkDir, "summary.yaml")
}

// ResolvedLedgerPath returns the ledger location, or "" when disabled.
func (c RunConfig) ResolvedLedgerPath() string {
	switch c.LedgerPath {
	case "-":
		return ""
	case "":
		return filepath.Join(c.WorkDir, "foldeval.db")
	default:
		return c.LedgerPath
	}
}

// Validate checks the settings that would otherwise fail mid-run.
func (c RunConfig) Validate() error {
	var errs []error
	if c.WorkDir == "" {
		errs = append(errs, errors.New("work_dir is required"))
	}
	if c.ReportName == "" || filepath.Base(c.ReportName) != c.ReportName {
		errs = append(errs, fmt.Errorf("report_name %q must be a plain filename", c.ReportName))
	}
	if c.Threshold < 0 || c.Threshold > 100 {
		errs = append(errs, fmt.Errorf("threshold %v outside [0, 100]", c.Threshold))
	}
	if c.Parallel < 1 {
		errs = append(errs, fmt.Errorf("parallel must be at least 1, got %d", c.Parallel))
	}
	if c.Retrieval.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retrieval.max_retries must not be negative, got %d", c.Retrieval.MaxRetries))
	}
	switch c.Align.Engine {
	case EngineKabsch, EnginePymol:
	default:
		errs = append(errs, fmt.Errorf("align.engine %q: want %q or %q", c.Align.Engine, EngineKabsch, EnginePymol))
	}
	if c.Align.Cycles < 0 {
		errs = append(errs, fmt.Errorf("align.cycles must not be negative, got %d", c.Align.Cycles))
	}
	if c.Search.Binary == "" || c.Search.Database == "" {
		errs = append(errs, errors.New("search.binary and search.database are required"))
	}
	return errors.Join(errs...)
}
