package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/airchains-network/tweak-executor/backend"
	"github.com/airchains-network/tweak-executor/config"
	"github.com/airchains-network/tweak-executor/eth"
	"github.com/airchains-network/tweak-executor/executor"
	"github.com/airchains-network/tweak-executor/layout"
	"github.com/airchains-network/tweak-executor/state"
	"github.com/airchains-network/tweak-executor/tweak"
	"github.com/airchains-network/tweak-executor/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newLogger(cmd *cobra.Command) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	})
	log.SetLevel(logrus.InfoLevel)
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func configPath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path, nil
	}
	return config.DefaultPath()
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := configPath(cmd)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	if url, _ := cmd.Flags().GetString("fork-url"); url != "" {
		cfg.Fork.RPCURL = url
	}
	if cmd.Flags().Changed("fork-block") {
		block, _ := cmd.Flags().GetUint64("fork-block")
		cfg.Fork.BlockNumber = &block
	}
	return cfg, nil
}

func addForkFlags(cmd *cobra.Command) {
	cmd.Flags().String("fork-url", "", "Override the fork rpc url or alias")
	cmd.Flags().Uint64("fork-block", 0, "Override the fork block number")
	cmd.Flags().StringArray("tweak", nil, "Code tweak <address>=<hex or @file>, repeatable")
	cmd.Flags().String("metadata", "", "Clone metadata holding the original storage layout")
	cmd.Flags().String("artifact", "", "Compiler artifact holding the edited storage layout")
	cmd.Flags().Bool("force", false, "Apply tweaks even when the storage layout is incompatible")
	cmd.Flags().Bool("atomic-tweaks", false, "Read every tweaked account before installing any tweak")
	cmd.Flags().Bool("debug", false, "Record an opcode step trace")
}

func parseTweaks(cmd *cobra.Command) ([]types.CodeTweak, error) {
	raw, _ := cmd.Flags().GetStringArray("tweak")
	tweaks := make([]types.CodeTweak, 0, len(raw))
	for _, s := range raw {
		tw, err := tweak.ParseTweak(s)
		if err != nil {
			return nil, err
		}
		tweaks = append(tweaks, tw)
	}
	return tweaks, nil
}

// checkLayout gates on the clone metadata and artifact layouts. On an
// incompatibility every difference is logged before the first is returned.
func checkLayout(metadataPath, artifactPath string, log logrus.FieldLogger) error {
	err := layout.CheckProject(metadataPath, artifactPath)
	if !layout.IsIncompatible(err) {
		return err
	}
	if original, current, lerr := layout.LoadProject(metadataPath, artifactPath); lerr == nil {
		for _, diff := range layout.Diff(original, current) {
			log.Warn(diff.Error())
		}
	}
	return fmt.Errorf("incompatible storage layout: %w", err)
}

// gateTweaks checks the storage layout when both --metadata and --artifact
// are given. With --force an incompatible layout is only reported.
func gateTweaks(cmd *cobra.Command, log logrus.FieldLogger) error {
	metadataPath, _ := cmd.Flags().GetString("metadata")
	artifactPath, _ := cmd.Flags().GetString("artifact")
	if metadataPath == "" && artifactPath == "" {
		return nil
	}
	if metadataPath == "" || artifactPath == "" {
		return errors.New("--metadata and --artifact must be given together")
	}

	err := checkLayout(metadataPath, artifactPath, log)
	if err == nil {
		log.Info("Storage layout is compatible")
		return nil
	}
	if force, _ := cmd.Flags().GetBool("force"); force && layout.IsIncompatible(err) {
		log.Warn("Storage layout is incompatible, continuing because of --force")
		return nil
	}
	return err
}

// buildExecutor resolves the fork from cfg and returns a tracing executor
// with tweaks applied. A configured database path keeps the account table on disk.
func buildExecutor(ctx context.Context, cfg config.Config, tweaks []types.CodeTweak, debug, atomic bool, log *logrus.Logger) (*executor.TracingExecutor, error) {
	env, fork, chainID, err := executor.ForkMaterial(ctx, cfg, eth.EvmOpts{})
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"block":    env.Block.Number,
		"chain_id": *chainID,
	}).Info("Resolved fork")

	opts := []executor.Option{executor.WithLogger(log)}
	if atomic {
		opts = append(opts, executor.WithAtomicTweaks())
	}

	if cfg.Database.Path == "" {
		return executor.NewWithTweaks(env, fork, cfg.Fork.EVMVersion, tweaks, debug, opts...)
	}

	store, err := state.OpenAccountStore(cfg.Database.Path)
	if err != nil {
		if fork != nil {
			fork.Close()
		}
		return nil, fmt.Errorf("failed to open account table: %w", err)
	}
	db := backend.NewForkBackend(ctx, store, fork, log)
	te, err := executor.NewWithBackend(env, db, cfg.Fork.EVMVersion, debug, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := te.ApplyTweaks(tweaks, opts...); err != nil {
		te.Close()
		return nil, err
	}
	return te, nil
}
