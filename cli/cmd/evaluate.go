package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
	"github.com/tnqbao/gau-repo-evaluator/service"
)

var evaluateRepos []string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <owner>/<name> | <owner> --repos a,b",
	Short: "Run an evaluation inline and print the report",
	Long: `Run an evaluation in this process without the broker.

The artifact is written through the same cache and store as the service, so a
later API request for the same version is served from cache.

Examples:
  gau-eval evaluate acme/widgets
  gau-eval evaluate acme --repos widgets,gadgets -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := parseTarget(args[0], evaluateRepos)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		progress := func(ctx context.Context, p int) {
			if !jsonOutput() {
				fmt.Fprintf(cmd.ErrOrStderr(), "progress %3d%%\n", p)
			}
		}

		artifact, outcome, err := s.service.EvaluateNow(ctx, req, pipeline.ProgressFunc(progress))
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(out, artifact)
		}
		return printArtifact(out, artifact, outcome)
	},
}

func init() {
	evaluateCmd.Flags().StringSliceVar(&evaluateRepos, "repos", nil, "evaluate these repositories of the owner as one aggregate")
}

func parseTarget(target string, repos []string) (service.SubmitRequest, error) {
	if len(repos) > 0 {
		return service.SubmitRequest{Owner: target, Repositories: repos}, nil
	}
	owner, name, ok := strings.Cut(target, "/")
	if !ok || owner == "" || name == "" {
		return service.SubmitRequest{}, fmt.Errorf("expected <owner>/<name>, got %q", target)
	}
	return service.SubmitRequest{Owner: owner, Name: name}, nil
}

func printArtifact(w io.Writer, artifact *entity.Artifact, outcome *pipeline.Outcome) error {
	var report entity.Report
	if err := json.Unmarshal(artifact.Report, &report); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}

	source := "evaluated"
	if outcome != nil && outcome.ShortCircuited {
		source = "cached"
	}
	fmt.Fprintf(w, "%s/%s@%s  score %.1f  (%s)\n", artifact.Owner, artifact.Name, artifact.Version, artifact.OverallScore, source)
	if report.Score.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", report.Score.Summary)
	}

	m := report.Metrics
	fmt.Fprintf(w, "\nfiles %s  lines %s  primary language %s\n",
		humanize.Comma(int64(m.TotalFiles)), humanize.Comma(int64(m.TotalLines)), m.PrimaryLanguage)

	if len(report.Score.Categories) > 0 {
		names := make([]string, 0, len(report.Score.Categories))
		for name := range report.Score.Categories {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(w)
		for _, name := range names {
			fmt.Fprintf(w, "  %-16s %5.1f\n", name, report.Score.Categories[name])
		}
	}

	for _, member := range report.Members {
		mark := ""
		if member.FromCache {
			mark = " (cached)"
		}
		fmt.Fprintf(w, "  %-24s %5.1f%s\n", member.Repository+"@"+member.Version, member.Overall, mark)
	}
	return nil
}
