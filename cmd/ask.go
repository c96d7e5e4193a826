package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/anthonygricco/openevidence-cli/internal/evidence"
	"github.com/anthonygricco/openevidence-cli/internal/observability"
	"github.com/anthonygricco/openevidence-cli/internal/session"
	"github.com/anthonygricco/openevidence-cli/internal/stabilize"
)

const answerBanner = "============================================================"

func newAskCmd() *cobra.Command {
	var (
		question    string
		fast        bool
		turbo       bool
		stream      bool
		saveImages  bool
		outputDir   string
		showBrowser bool
		debug       bool
	)

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Submit a question and print the answer",
		Long: `Submits a question to OpenEvidence using the saved session and waits for
the rendered answer to stop changing. The answer is printed to stdout;
everything else goes to stderr.`,
		Args: cobra.ArbitraryArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if question == "" {
				question = strings.TrimSpace(strings.Join(args, " "))
			}
			if question == "" {
				return fmt.Errorf("no question given: pass it as an argument or with --question")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			opts := evidence.AskOptions{
				Question:    question,
				Mode:        cfg.Timing.SelectMode(fast, turbo),
				SaveImages:  saveImages,
				Screenshot:  saveImages || debug,
				OutputDir:   outputDir,
				ShowBrowser: showBrowser || debug,
			}
			if stream {
				opts.Stream = cmd.OutOrStdout()
			}

			logger.Info("Submitting question",
				zap.String("mode", opts.Mode.Name),
				zap.Bool("stream", stream),
				zap.Int("question_length", len(question)))

			store := session.New(cfg.Paths, logger)
			client := evidence.NewClient(cfg, store, logger)

			result, err := client.Ask(ctx, opts)
			if err != nil {
				if errors.Is(err, evidence.ErrNotAuthenticated) {
					return fmt.Errorf("not authenticated: run `openevidence-cli auth setup` first")
				}
				return err
			}

			return printAskResult(cmd, result, stream)
		},
	}

	askCmd.Flags().StringVarP(&question, "question", "q", "", "the question to ask")
	askCmd.Flags().BoolVar(&fast, "fast", false, "reduced delays and a single stability check")
	askCmd.Flags().BoolVar(&turbo, "turbo", false, "minimal delays (overrides --fast)")
	askCmd.Flags().BoolVar(&stream, "stream", false, "print the answer incrementally as it renders")
	askCmd.Flags().BoolVar(&saveImages, "save-images", false, "save figures and a screenshot from the answer")
	askCmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for saved artifacts (default: a fresh run dir)")
	askCmd.Flags().BoolVar(&showBrowser, "show-browser", false, "run with a visible browser window")
	askCmd.Flags().BoolVar(&debug, "debug", false, "verbose logging, visible browser, screenshot")

	return askCmd
}

func printAskResult(cmd *cobra.Command, result *evidence.AskResult, streamed bool) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	switch result.Status {
	case stabilize.StatusNoResponse:
		return fmt.Errorf("no response appeared within the deadline")
	case stabilize.StatusTimeout:
		if !result.Partial {
			return fmt.Errorf("the answer never settled within the deadline")
		}
		fmt.Fprintln(errOut, "Warning: deadline reached, the answer below may be incomplete.")
	}

	if streamed {
		// The text already went out incrementally; finish the line.
		fmt.Fprintln(out)
	} else {
		fmt.Fprintln(out, answerBanner)
		fmt.Fprintln(out, result.Answer)
		fmt.Fprintln(out, answerBanner)
	}
	fmt.Fprintln(out, "Source: OpenEvidence (https://www.openevidence.com)")

	if result.ScreenshotPath != "" {
		fmt.Fprintln(errOut, "Screenshot saved:", result.ScreenshotPath)
	}
	for _, p := range result.ImagePaths {
		fmt.Fprintln(errOut, "Figure saved:", p)
	}
	fmt.Fprintf(errOut, "Answered in %s.\n", result.Elapsed.Round(100*time.Millisecond))
	return nil
}
