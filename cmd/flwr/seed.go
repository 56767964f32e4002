package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nidhogg/flowerbed/internal/config"
	"github.com/nidhogg/flowerbed/internal/flower"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	seedModel  string
	seedPrompt string
)

var seedCmd = &cobra.Command{
	Use:   "seed [type] [traits] [temperature]",
	Short: "Seed a new flower in the configured storage",
	Long: "Seed a new flower. Traits are comma separated. Defaults: type companion, " +
		"traits friendly,helpful, temperature 0.7.",
	Args: cobra.MaximumNArgs(3),
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedModel, "model", "", "base model (default gpt-4)")
	seedCmd.Flags().StringVar(&seedPrompt, "system-prompt", "", "system prompt for the flower")
}

func seedConfig(args []string) (flower.Config, error) {
	cfg := flower.Config{
		Type:         "companion",
		Traits:       []string{"friendly", "helpful"},
		Temperature:  0.7,
		BaseModel:    seedModel,
		SystemPrompt: seedPrompt,
	}
	if len(args) > 0 {
		cfg.Type = args[0]
	}
	if len(args) > 1 {
		cfg.Traits = nil
		for _, t := range strings.Split(args[1], ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Traits = append(cfg.Traits, t)
			}
		}
	}
	if len(args) > 2 {
		temp, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return cfg, fmt.Errorf("temperature %q: %w", args[2], err)
		}
		cfg.Temperature = temp
	}
	return cfg, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	fc, err := seedConfig(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Queue.Enabled = false
	cfg.Events.Redis = false

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := a.engine.Seed(cmd.Context(), fc)
	if err != nil {
		return err
	}
	logger.Info("flower seeded", zap.String("id", f.ID), zap.Strings("traits", f.Genome.Traits))

	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")
	return out.Encode(map[string]interface{}{
		"flowerId":    f.ID,
		"type":        f.Type,
		"traits":      f.Genome.Traits,
		"temperature": f.Genome.Temperature,
		"storage":     cfg.Storage.Driver,
	})
}
