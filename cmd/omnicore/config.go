package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/omni-agent/omnicore/audit"
	"github.com/omni-agent/omnicore/dispatch"
	"github.com/omni-agent/omnicore/guard"
	"github.com/omni-agent/omnicore/internal/pathutil"
	"github.com/omni-agent/omnicore/tools"
	"github.com/omni-agent/omnicore/tools/builtin"
	"github.com/omni-agent/omnicore/vault"
)

func setDefaults() {
	viper.SetDefault("audit.path", "~/.omnicore/audit.jsonl")
	viper.SetDefault("audit.rotate_max_bytes", int64(100*1024*1024))
	viper.SetDefault("audit.masking.rule_file", "")
	viper.SetDefault("audit.masking.sensitive_dirs", []string{"~/.ssh", "~/.omnicore"})

	viper.SetDefault("vault.path", "~/.omnicore/secrets.vault")
	viper.SetDefault("vault.lockout_threshold", 5)
	viper.SetDefault("vault.cooldown_base", 30*time.Second)
	viper.SetDefault("vault.auto_relock", 15*time.Minute)

	viper.SetDefault("approvals.timeout", 5*time.Minute)
	viper.SetDefault("approvals.sweep_interval", 5*time.Second)
	viper.SetDefault("approvals.global_approval", false)
	viper.SetDefault("approvals.global_approval_ceiling", "low")
	viper.SetDefault("approvals.archive_dsn", "~/.omnicore/approvals.db")
}

// core bundles one session's fully wired components.
type core struct {
	sessionID string
	auditor   *audit.Logger
	vault     *vault.Vault
	engine    *guard.Engine
	registry  *tools.Registry
	coord     *dispatch.Coordinator
	archive   guard.ArchiveStore
}

func (c *core) Close() {
	if c.archive != nil {
		_ = c.archive.Close()
	}
	if c.auditor != nil {
		_ = c.auditor.Close()
	}
}

func coreFromViper(log *slog.Logger) (*core, error) {
	if log == nil {
		log = slog.Default()
	}

	auditor, err := auditorFromViper()
	if err != nil {
		return nil, err
	}

	v, err := vault.New(vault.Config{
		Path:             pathutil.ExpandHomePath(viper.GetString("vault.path")),
		LockoutThreshold: viper.GetInt("vault.lockout_threshold"),
		CooldownBase:     viper.GetDuration("vault.cooldown_base"),
		AutoRelock:       viper.GetDuration("vault.auto_relock"),
	})
	if err != nil {
		return nil, err
	}

	var archive guard.ArchiveStore
	dsn := pathutil.ExpandHomePath(viper.GetString("approvals.archive_dsn"))
	if dsn != "" {
		if err := pathutil.EnsureParentDir(dsn); err != nil {
			return nil, err
		}
		st, err := guard.NewSQLiteArchiveStore(dsn)
		if err != nil {
			log.Warn("approval_archive_error", "error", err.Error())
		} else {
			archive = st
		}
	}

	sessionID := "sess_" + uuid.NewString()
	engine := guard.NewEngine(sessionID, guard.Config{
		Timeout:               viper.GetDuration("approvals.timeout"),
		SweepInterval:         viper.GetDuration("approvals.sweep_interval"),
		GlobalApproval:        viper.GetBool("approvals.global_approval"),
		GlobalApprovalCeiling: guard.RiskTier(strings.ToLower(viper.GetString("approvals.global_approval_ceiling"))),
	}, auditor, archive, log)

	registry := tools.NewRegistry()
	registry.Register(builtin.NewEchoTool())

	coord := dispatch.NewCoordinator(sessionID, dispatch.Config{}, engine, v, auditor, registry, log)

	return &core{
		sessionID: sessionID,
		auditor:   auditor,
		vault:     v,
		engine:    engine,
		registry:  registry,
		coord:     coord,
		archive:   archive,
	}, nil
}

func auditorFromViper() (*audit.Logger, error) {
	var rules []audit.Rule
	if ruleFile := strings.TrimSpace(viper.GetString("audit.masking.rule_file")); ruleFile != "" {
		loaded, err := audit.LoadRuleFile(pathutil.ExpandHomePath(ruleFile))
		if err != nil {
			return nil, fmt.Errorf("load masking rules: %w", err)
		}
		rules = loaded
	}
	var dirs []string
	for _, d := range viper.GetStringSlice("audit.masking.sensitive_dirs") {
		dirs = append(dirs, pathutil.ExpandHomePath(d))
	}
	masker, err := audit.NewMasker(rules, dirs)
	if err != nil {
		return nil, err
	}

	sink, err := audit.NewJSONLSink(
		pathutil.ExpandHomePath(viper.GetString("audit.path")),
		viper.GetInt64("audit.rotate_max_bytes"),
	)
	if err != nil {
		return nil, err
	}
	return audit.NewLogger(sink, masker, slog.Default())
}
