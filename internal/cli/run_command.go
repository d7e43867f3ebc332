package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"yt-transcripts/internal/harvest"
	"yt-transcripts/internal/model"
	"yt-transcripts/internal/runstore"
)

func addRunFlags(cmd *cobra.Command, flags *runFlags) {
	cmd.Flags().BoolVar(&flags.tui, "tui", false, "Show a live dashboard (requires a terminal)")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "Ignore the transcript cache for this run")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "Worker count, clamped to 2..20 (default from config)")
	cmd.Flags().StringVar(&flags.outputRoot, "output-root", "", "Directory holding session directories (default from config)")
	cmd.Flags().StringVar(&flags.metrics, "metrics-listen", "", "Serve Prometheus metrics on this address while running")
}

func newRunCommand(cc *commandContext) *cobra.Command {
	var flags runFlags
	var inputPath string
	cmd := &cobra.Command{
		Use:   "run [video-id-or-url...]",
		Short: "Start a new extraction session",
		Example: `  yt-transcripts run dQw4w9WgXcQ https://youtu.be/9bZkp7q19f0
  yt-transcripts run --input videos.txt --concurrency 8 --tui`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := append([]string(nil), args...)
			if inputPath != "" {
				lines, err := readInputFile(inputPath)
				if err != nil {
					return err
				}
				raw = append(raw, lines...)
			}
			ids, err := parseIdentities(raw)
			if err != nil {
				return err
			}

			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyRunFlags(cfg, flags); err != nil {
				return err
			}
			if flags.tui && !stdoutIsTTY() {
				return errors.New("--tui requires an interactive terminal")
			}
			logger, err := cc.logger(cfg, flags.tui)
			if err != nil {
				return err
			}
			eng, err := newEngine(cfg, logger, flags)
			if err != nil {
				return err
			}
			defer eng.Close()

			sess, err := runstore.Create(cfg.Run.OutputRoot, runstore.CreateOptions{
				IDs:    ids,
				Config: cfg.Snapshot(),
				Tiers:  eng.TierNames(),
			})
			if err != nil {
				return err
			}
			defer sess.Close()
			if !cc.jsonFlag {
				fmt.Fprintf(cc.stdout, "session %s: %d items, tiers %s\n", sess.ID(), len(ids), strings.Join(eng.TierNames(), " > "))
			}

			res, runErr := cc.runSession(cmd.Context(), eng, sess, flags)
			if err := cc.printResult(res); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "File with one video id or URL per line (# starts a comment)")
	addRunFlags(cmd, &flags)
	return cmd
}

func newResumeCommand(cc *commandContext) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "resume <session-id|latest>",
		Short: "Continue an interrupted session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyRunFlags(cfg, flags); err != nil {
				return err
			}
			if flags.tui && !stdoutIsTTY() {
				return errors.New("--tui requires an interactive terminal")
			}
			sessionID, err := resolveSessionID(cfg.Run.OutputRoot, args[0])
			if err != nil {
				return err
			}
			logger, err := cc.logger(cfg, flags.tui)
			if err != nil {
				return err
			}
			eng, err := newEngine(cfg, logger, flags)
			if err != nil {
				return err
			}
			defer eng.Close()

			sess, err := runstore.Load(cfg.Run.OutputRoot, sessionID)
			if err != nil {
				return err
			}
			defer sess.Close()
			if !cc.jsonFlag {
				c := sess.Counters()
				fmt.Fprintf(cc.stdout, "resuming %s: %d runnable of %d items\n", sess.ID(), c.Pending+c.FailedRetryable, c.Total)
			}

			res, runErr := cc.runSession(cmd.Context(), eng, sess, flags)
			if err := cc.printResult(res); err != nil {
				return err
			}
			return runErr
		},
	}
	addRunFlags(cmd, &flags)
	return cmd
}

func (c *commandContext) printResult(res harvest.Result) error {
	if res.SessionID == "" {
		return nil
	}
	if c.jsonFlag {
		return printJSON(c.stdout, res)
	}
	fmt.Fprintln(c.stdout)
	fmt.Fprintln(c.stdout, titleStyle.Render("session "+res.SessionID))
	for _, line := range res.Summary {
		fmt.Fprintln(c.stdout, "  "+line)
	}
	for name, kind := range res.Disabled {
		fmt.Fprintf(c.stdout, "  tier %s was disabled (%s)\n", name, kind)
	}
	if res.Stopped {
		fmt.Fprintf(c.stdout, "  stopped early; continue with: yt-transcripts resume %s\n", res.SessionID)
	}
	fmt.Fprintf(c.stdout, "  output: %s\n", res.Dir)
	return nil
}

func resolveSessionID(root, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw != "latest" {
		return raw, nil
	}
	dir, err := runstore.LatestSessionDir(root)
	if err != nil {
		return "", err
	}
	return filepath.Base(dir), nil
}

func readInputFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return out, nil
}

// parseIdentities normalizes every input and drops duplicates, keeping the first
// occurrence. Any unparseable input fails the whole command.
func parseIdentities(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, errors.New("no videos given; pass ids/urls as arguments or use --input")
	}
	ids := make([]string, 0, len(raw))
	var bad []string
	for _, r := range raw {
		id, err := model.ParseIdentity(r)
		if err != nil {
			bad = append(bad, r)
			continue
		}
		ids = append(ids, id)
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("unrecognized video reference(s): %s", strings.Join(bad, ", "))
	}
	return model.Dedup(ids), nil
}
