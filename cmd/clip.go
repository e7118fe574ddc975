package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

type clipOptions struct {
	file     string
	notebook string
	path     string
}

func newClipCmd() *cobra.Command {
	opts := &clipOptions{}
	cmd := &cobra.Command{
		Use:   "clip [url...]",
		Short: "Clip one or more URLs into the note store",
		Long: `Clips every URL given as an argument or listed in --file (one per line,
blank lines and lines starting with # are ignored). One status line is
printed per URL. The command fails when any URL fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClip(cmd, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "file with one URL per line")
	cmd.Flags().StringVar(&opts.notebook, "notebook", "", "target notebook name or ID (default pipeline.notebook)")
	cmd.Flags().StringVar(&opts.path, "path", "", "target folder path (default pipeline.path)")
	return cmd
}

func runClip(cmd *cobra.Command, args []string, opts *clipOptions) error {
	s, err := resolveSession(cmd.Context())
	if err != nil {
		return err
	}

	urls := append([]string(nil), args...)
	if opts.file != "" {
		listed, err := readURLFile(opts.file)
		if err != nil {
			return err
		}
		urls = append(urls, listed...)
	}
	if len(urls) == 0 {
		return errors.New("no urls given; pass them as arguments or with --file")
	}

	target := clipper.Target{Notebook: s.cfg.Pipeline.Notebook, Path: s.cfg.Pipeline.Path}
	if opts.notebook != "" {
		target.Notebook = opts.notebook
	}
	if opts.path != "" {
		target.Path = opts.path
	}

	s.logger.Info("clipping", zap.Int("urls", len(urls)), zap.String("notebook", target.Notebook), zap.String("path", target.Path))
	outcomes := s.app.Runner().RunBatch(cmd.Context(), urls, target)

	failed := writeOutcomes(cmd.OutOrStdout(), outcomes)
	if failed > 0 {
		return fmt.Errorf("%d of %d clips failed", failed, len(outcomes))
	}
	return nil
}

// writeOutcomes prints one tab-separated line per outcome and returns the
// number of failures.
func writeOutcomes(w io.Writer, outcomes []clipper.Outcome) int {
	failed := 0
	for _, o := range outcomes {
		detail := o.StorePath
		if o.Status != clipper.StatusSucceeded {
			detail = strings.TrimSpace(detail + " " + o.Reason)
		}
		if o.Status == clipper.StatusFailed {
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", o.Status, o.URL, detail)
	}
	return failed
}

// readURLFile returns the URLs listed in path.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()
	return parseURLList(f)
}

func parseURLList(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return urls, nil
}
