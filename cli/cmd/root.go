// Package cmd implements gau-eval, the operator CLI. Every flag can also be
// set from a YAML config file or an EVAL_ prefixed environment variable.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tnqbao/gau-repo-evaluator/config"
	infraPkg "github.com/tnqbao/gau-repo-evaluator/infra"
	"github.com/tnqbao/gau-repo-evaluator/repository"
	"github.com/tnqbao/gau-repo-evaluator/service"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "gau-eval",
	Short:         "Evaluate repositories and inspect evaluation jobs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/gau-eval/config.yaml)")
	rootCmd.PersistentFlags().String("cache-backend", "memory", "hot cache backend: redis or memory")
	rootCmd.PersistentFlags().String("pipeline-mode", "", "stage layout: optimized or sequential")
	rootCmd.PersistentFlags().String("github-token", "", "token for the source hosting API")
	rootCmd.PersistentFlags().String("scratch-dir", "", "directory for fetched snapshots")
	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format: text or json")

	for _, name := range []string{"cache-backend", "pipeline-mode", "github-token", "scratch-dir", "output"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	rootCmd.AddCommand(evaluateCmd, jobCmd, reconcileCmd)
}

func initConfig() {
	viper.SetEnvPrefix("EVAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(filepath.Join(home, ".config", "gau-eval"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig layers the CLI settings over the environment configuration.
func loadConfig() *config.Config {
	cfg := config.NewConfig()
	env := cfg.EnvConfig

	env.Cache.Backend = viper.GetString("cache-backend")
	if mode := viper.GetString("pipeline-mode"); mode != "" {
		env.Pipeline.Mode = mode
	}
	if token := viper.GetString("github-token"); token != "" {
		env.Source.Token = token
	}
	if dir := viper.GetString("scratch-dir"); dir != "" {
		env.Source.ScratchDir = dir
	}
	return cfg
}

type session struct {
	infra   *infraPkg.Infra
	service *service.EvaluationService
}

// openSession builds the evaluation service. withBroker connects RabbitMQ so
// the service can publish; the inline commands run without it.
func openSession(ctx context.Context, withBroker bool) (*session, error) {
	cfg := loadConfig()

	var infra *infraPkg.Infra
	if withBroker {
		infra = infraPkg.InitInfra(ctx, cfg)
	} else {
		infra = infraPkg.InitLocalInfra(ctx, cfg)
	}
	repo := repository.InitRepository(infra.Postgres.DB)

	svc, err := service.InitEvaluationService(cfg.EnvConfig, infra, repo)
	if err != nil {
		infra.Close(context.Background())
		return nil, err
	}
	return &session{infra: infra, service: svc}, nil
}

func (s *session) Close() {
	s.infra.Close(context.Background())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonOutput() bool {
	return viper.GetString("output") == "json"
}
