package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type commandContext struct {
	configFlag *string

	once     sync.Once
	config   *Config
	path     string
	exists   bool
	logger   *zap.Logger
	setupErr error
}

func (c *commandContext) ensure() (*Config, *zap.Logger, error) {
	c.once.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := LoadConfig(path)
		if err != nil {
			c.setupErr = err
			return
		}
		logger, err := NewLogger(cfg.Logging)
		if err != nil {
			c.setupErr = err
			return
		}
		c.config, c.path, c.exists, c.logger = cfg, resolved, exists, logger
	})
	return c.config, c.logger, c.setupErr
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "emdbot",
		Short:         "Early Modern English dialogue bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := ctx.ensure()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if ctx.logger != nil {
				_ = ctx.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newPrepareCommand(ctx))
	rootCmd.AddCommand(newTrainCommand(ctx))
	rootCmd.AddCommand(newChatCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newWordCountCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	return rootCmd
}

func newPrepareCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Extract dialogue pairs, build vocabularies and token-id files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _ := ctx.ensure()
			paths, err := PrepareEMDData(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			rows := [][]string{
				{"source vocabulary", paths.FromVocab},
				{"target vocabulary", paths.ToVocab},
				{"train source ids", paths.FromTrainIDs},
				{"train target ids", paths.ToTrainIDs},
				{"dev source ids", paths.FromDevIDs},
				{"dev target ids", paths.ToDevIDs},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"File", "Path"}, rows, nil))
			return nil
		},
	}
}

func newTrainCommand(ctx *commandContext) *cobra.Command {
	var maxSteps int
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the dialogue model, resuming from the latest checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _ := ctx.ensure()
			if cmd.Flags().Changed("max-steps") {
				cfg.Training.MaxSteps = maxSteps
			}
			return Train(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Stop after this many global steps (0 trains until interrupted)")
	return cmd
}

func newChatCommand(ctx *commandContext) *cobra.Command {
	var sampling SamplingOptions
	var seed int64
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the bot on the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _ := ctx.ensure()
			bot, err := NewBot(cfg, logger, WithSampling(sampling, seed))
			if err != nil {
				return err
			}
			defer bot.Close()
			return chatLoop(cmd.InOrStdin(), cmd.OutOrStdout(), bot)
		},
	}
	cmd.Flags().Float32Var(&sampling.Temperature, "temperature", 0, "Sampling temperature (0 decodes greedily)")
	cmd.Flags().IntVar(&sampling.TopK, "top-k", 0, "Sample only from the k most likely tokens")
	cmd.Flags().Float32Var(&sampling.TopP, "top-p", 0, "Sample only from the smallest set of tokens with this total probability")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed for sampling (0 uses the clock)")
	return cmd
}

// chatLoop answers every non-empty input line until "quit" or EOF.
func chatLoop(in io.Reader, out io.Writer, bot Responder) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == quitMessage {
			return nil
		}
		if line != "" {
			reply, err := bot.Respond(line)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, reply.Answer)
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web chat page",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _ := ctx.ensure()
			if strings.TrimSpace(bind) != "" {
				cfg.Server.Bind = strings.TrimSpace(bind)
			}
			bot, err := NewBot(cfg, logger)
			if err != nil {
				return err
			}
			defer bot.Close()

			var recorder Recorder
			if cfg.History.Enabled {
				store, err := OpenHistory(cmd.Context(), cfg.History.Path)
				if err != nil {
					return err
				}
				defer store.Close()
				recorder = store
			}

			srv, err := newChatServer(cfg.Server, bot, recorder, logger)
			if err != nil {
				return err
			}
			return srv.Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (overrides server.bind)")
	return cmd
}

func newWordCountCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "wordcount",
		Short: "Count dialogue pairs and words in the configured corpora",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _ := ctx.ensure()
			pairs, err := ExtractPairs(cfg, logger)
			if err != nil {
				return err
			}
			stats := WordCount(pairs)
			rows := [][]string{
				{"pairs", strconv.Itoa(stats.Pairs)},
				{"unique words", strconv.Itoa(stats.UniqueWords)},
				{"total words", strconv.Itoa(stats.TotalWords)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Metric", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent web chat exchanges",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _ := ctx.ensure()
			store, err := OpenHistory(cmd.Context(), cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			exchanges, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(exchanges) == 0 {
				fmt.Fprintln(out, "No exchanges recorded")
				return nil
			}
			rows := make([][]string, len(exchanges))
			for i, ex := range exchanges {
				rows[i] = []string{
					ex.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					shortSession(ex.SessionID),
					ex.Message,
					ex.Answer,
				}
			}
			fmt.Fprintln(out, renderTable([]string{"Time", "Session", "Message", "Answer"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of exchanges to show")
	return cmd
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _ := ctx.ensure()
			data, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			out := cmd.OutOrStdout()
			source := ctx.path
			if !ctx.exists {
				source += " (not found, using defaults)"
			}
			fmt.Fprintf(out, "# source: %s\n", source)
			_, err = out.Write(data)
			return err
		},
	})
	return configCmd
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, columns)
	for i := range configs {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: align, WidthMax: 60}
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
