// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/foldeval/pkg/types"
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"work-dir":  "work_dir",
	"threshold": "threshold",
	"parallel":  "parallel",
	"ledger":    "ledger_path",
	"engine":    "align.engine",
	"database":  "search.database",
	"image":     "search.image",
}

// setDefaults registers every configuration key so that environment
// variables such as FOLDEVAL_SEARCH_DATABASE are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	d := types.DefaultRunConfig()
	v.SetDefault("work_dir", d.WorkDir)
	v.SetDefault("report_name", d.ReportName)
	v.SetDefault("threshold", d.Threshold)
	v.SetDefault("parallel", d.Parallel)
	v.SetDefault("ledger_path", d.LedgerPath)

	v.SetDefault("retrieval.timeout", d.Retrieval.Timeout)
	v.SetDefault("retrieval.user_agent", d.Retrieval.UserAgent)
	v.SetDefault("retrieval.sequence_url", d.Retrieval.SequenceURL)
	v.SetDefault("retrieval.prediction_url", d.Retrieval.PredictionURL)
	v.SetDefault("retrieval.reference_url", d.Retrieval.ReferenceURL)
	v.SetDefault("retrieval.max_retries", d.Retrieval.MaxRetries)
	v.SetDefault("retrieval.retry_base_delay", d.Retrieval.RetryBaseDelay)
	v.SetDefault("retrieval.cache_references", d.Retrieval.CacheReferences)

	v.SetDefault("search.binary", d.Search.Binary)
	v.SetDefault("search.dbcmd_binary", d.Search.DBCmdBinary)
	v.SetDefault("search.database", d.Search.Database)
	v.SetDefault("search.image", d.Search.Image)
	v.SetDefault("search.threads", d.Search.Threads)

	v.SetDefault("align.engine", string(d.Align.Engine))
	v.SetDefault("align.pymol_binary", d.Align.PymolBinary)
	v.SetDefault("align.cycles", d.Align.Cycles)
	v.SetDefault("align.cutoff", d.Align.Cutoff)

	v.SetDefault("notify.smtp_host", d.Notify.SMTPHost)
	v.SetDefault("notify.smtp_port", d.Notify.SMTPPort)
	v.SetDefault("notify.username", d.Notify.Username)
	v.SetDefault("notify.from", d.Notify.From)
	v.SetDefault("notify.to", d.Notify.To)
	v.SetDefault("notify.subject", d.Notify.Subject)
}

// addRunFlags registers the flags shared by commands that build a run
// configuration.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("work-dir", "", "artifact directory (default \"work\")")
	cmd.Flags().Float64("threshold", 0, "minimum percent identity, inclusive (default 70)")
	cmd.Flags().Int("parallel", 0, "identifiers processed at once (default 1)")
	cmd.Flags().String("ledger", "", "run ledger database; \"-\" disables it (default <work-dir>/foldeval.db)")
	cmd.Flags().String("engine", "", "alignment engine: kabsch or pymol (default kabsch)")
	cmd.Flags().String("database", "", "search database (default pdbaa)")
	cmd.Flags().String("image", "", "container image providing the search tools")
}

// loadRunConfig merges defaults, the config file, FOLDEVAL_* environment
// variables and any flags the user set on cmd, then validates the result.
func loadRunConfig(cmd *cobra.Command) (types.RunConfig, error) {
	return decodeRunConfig(viper.GetViper(), cmd)
}

func decodeRunConfig(v *viper.Viper, cmd *cobra.Command) (types.RunConfig, error) {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return types.RunConfig{}, fmt.Errorf("binding --%s: %w", name, err)
		}
	}

	var cfg types.RunConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return types.RunConfig{}, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return types.RunConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
