package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/canister-sim/engine"
	"github.com/wippyai/canister-sim/runtime"
)

const (
	keyConfig         = "config"
	keyWorkers        = "workers"
	keyDeterministic  = "deterministic"
	keyHeapMaxPages   = "heap-max-pages"
	keyStableMaxPages = "stable-max-pages"
	keyLogLevel       = "log-level"
)

func main() {
	v := viper.New()
	root := newRootCmd(v)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "canister-sim",
		Short:         "Local canister replica simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadViper(v, cmd.Flags())
		},
	}

	fs := root.PersistentFlags()
	fs.String(keyConfig, "", "Config file (toml, yaml or json)")
	fs.Int(keyWorkers, 0, "Worker goroutines for parallel mode (0 = GOMAXPROCS)")
	fs.Bool(keyDeterministic, false, "Run lanes on the calling goroutine for reproducible traces")
	fs.Uint32(keyHeapMaxPages, runtime.DefaultHeapMaxPages, "Heap cap in 64KiB pages")
	fs.Uint32(keyStableMaxPages, runtime.DefaultStableMaxPages, "Stable memory cap in 64KiB pages")
	fs.String(keyLogLevel, "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(v),
		newConsoleCmd(v),
		newExampleCmd(),
		newKindsCmd(),
	)
	return root
}

// loadViper layers flags over CANISTERSIM_* environment variables over the
// optional config file.
func loadViper(v *viper.Viper, fs *pflag.FlagSet) error {
	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	v.SetEnvPrefix("CANISTERSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString(keyConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func replicaConfig(v *viper.Viper, log *zap.Logger) runtime.Config {
	cfg := runtime.DefaultConfig()
	cfg.Workers = v.GetInt(keyWorkers)
	cfg.HeapMaxPages = v.GetUint32(keyHeapMaxPages)
	cfg.StableMaxPages = v.GetUint32(keyStableMaxPages)
	cfg.Logger = log
	if v.GetBool(keyDeterministic) {
		cfg.Mode = runtime.ModeDeterministic
	}
	return cfg
}

func newLogger(v *viper.Viper, sink zapcore.WriteSyncer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(v.GetString(keyLogLevel))
	if err != nil {
		return nil, err
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, level)
	log := zap.New(core)
	runtime.SetLogger(log)
	engine.SetLogger(log.Named("engine"))
	return log, nil
}
