package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/launchpad/internal/blueprint"
	"github.com/fyrsmithlabs/launchpad/internal/humangate"
	"github.com/fyrsmithlabs/launchpad/internal/pipeline"
)

var (
	interviewFile  string
	interview      blueprint.Interview
	founderEmail   string
	projectName    string
	decision       string
	comments       string
	revisions      []string
	watchInterval  time.Duration
	watchUntilDone bool
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Start and manage generation pipelines",
}

var pipelineStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a pipeline from a founder interview",
	Long: `Start a pipeline from a founder interview.

Examples:
  # From flags
  lpctl pipeline start --tenant acme --email founder@acme.io \
    --product Crafty --feature "seller listings" --feature "buyer reviews"

  # From a JSON interview file
  lpctl pipeline start --tenant acme --email founder@acme.io --file interview.json`,
	RunE: runPipelineStart,
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tenant's pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Pipelines []*pipeline.Execution `json:"pipelines"`
		}
		if err := newClient().do(cmd.Context(), "GET", "/api/v1/pipelines", true, nil, &resp); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, e := range resp.Pipelines {
			fmt.Fprintf(w, "%s  %-20s %-18s %5.1f%%  %s\n", e.ID, e.CurrentStage, e.Status, e.OverallProgress, e.ProjectName)
		}
		return nil
	},
}

var pipelineStatusCmd = &cobra.Command{
	Use:   "status <execution-id>",
	Short: "Show pipeline progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := fetchProgress(cmd, args[0])
		if err != nil {
			return err
		}
		renderProgress(cmd.OutOrStdout(), p)
		return nil
	},
}

var pipelineWatchCmd = &cobra.Command{
	Use:   "watch <execution-id>",
	Short: "Poll progress until the pipeline needs attention or finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		last := -1.0
		for {
			p, err := fetchProgress(cmd, args[0])
			if err != nil {
				return err
			}
			if p.OverallProgress != last {
				renderProgress(cmd.OutOrStdout(), p)
				last = p.OverallProgress
			}
			if p.Status.Terminal() || (!watchUntilDone && p.Status == pipeline.StatusWaitingApproval) {
				return nil
			}
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(watchInterval):
			}
		}
	},
}

var pipelineFeedbackCmd = &cobra.Command{
	Use:   "feedback <execution-id>",
	Short: "Record the founder decision on the pending blueprint",
	Long: `Record the founder decision on the pending blueprint.

Examples:
  lpctl pipeline feedback <id> --decision approve
  lpctl pipeline feedback <id> --decision request_revision \
    --revise "database=use postgres" --revise "features=add team invites"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fb, err := buildFeedback()
		if err != nil {
			return err
		}
		var e pipeline.Execution
		if err := newClient().do(cmd.Context(), "POST", "/api/v1/pipelines/"+args[0]+"/feedback", true, fb, &e); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s is %s (%s)\n", e.ID, e.Status, e.CurrentStage)
		return nil
	},
}

func controlCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <execution-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().do(cmd.Context(), "POST", "/api/v1/pipelines/"+args[0]+"/"+verb, true, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s: %s requested\n", args[0], verb)
			return nil
		},
	}
}

func init() {
	f := pipelineStartCmd.Flags()
	f.StringVar(&interviewFile, "file", "", "JSON interview file (- for stdin)")
	f.StringVar(&interview.ProductName, "product", "", "product name")
	f.StringVar(&interview.Description, "description", "", "product description")
	f.StringVar(&interview.TargetUsers, "users", "", "target users")
	f.StringArrayVar(&interview.Features, "feature", nil, "feature (repeatable)")
	f.StringArrayVar(&interview.Integrations, "integration", nil, "integration (repeatable)")
	f.StringVar(&interview.Priority, "priority", "", "approval priority: low, normal, high, urgent")
	f.StringVar(&founderEmail, "email", "", "founder email")
	f.StringVar(&projectName, "name", "", "project name (defaults to product name)")

	addFeedbackFlags(pipelineFeedbackCmd)

	pipelineWatchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "poll interval")
	pipelineWatchCmd.Flags().BoolVar(&watchUntilDone, "until-done", false, "keep watching through approval waits")

	pipelineCmd.AddCommand(pipelineStartCmd, pipelineListCmd, pipelineStatusCmd, pipelineWatchCmd, pipelineFeedbackCmd,
		controlCmd("cancel", "Cancel a pipeline"),
		controlCmd("pause", "Pause MVP generation before its next stage"),
		controlCmd("resume", "Resume paused MVP generation"),
	)
}

func addFeedbackFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&decision, "decision", "", "approve, reject or request_revision")
	cmd.Flags().StringVar(&comments, "comments", "", "free-form comments")
	cmd.Flags().StringArrayVar(&revisions, "revise", nil, "area=description revision request (repeatable)")
	_ = cmd.MarkFlagRequired("decision")
}

func runPipelineStart(cmd *cobra.Command, args []string) error {
	in := interview
	if interviewFile != "" {
		loaded, err := readInterview(interviewFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
		in = loaded
	}

	req := pipeline.StartRequest{Interview: in, FounderEmail: founderEmail, ProjectName: projectName}
	var e pipeline.Execution
	if err := newClient().do(cmd.Context(), "POST", "/api/v1/pipelines", true, req, &e); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Started pipeline %s for project %s\n", e.ID, e.ProjectID)
	return nil
}

func readInterview(path string, stdin io.Reader) (blueprint.Interview, error) {
	var in blueprint.Interview
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return in, fmt.Errorf("failed to read interview %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("invalid interview JSON: %w", err)
	}
	return in, nil
}

// buildFeedback assembles the decision flags into a request body.
func buildFeedback() (humangate.Feedback, error) {
	fb := humangate.Feedback{Decision: humangate.Decision(decision), Comments: comments}
	if !fb.Decision.Valid() {
		return fb, fmt.Errorf("unknown decision %q", decision)
	}
	reqs, err := parseRevisions(revisions)
	if err != nil {
		return fb, err
	}
	fb.RevisionRequests = reqs
	return fb, nil
}

// parseRevisions turns area=description pairs into revision requests.
func parseRevisions(pairs []string) ([]humangate.RevisionRequest, error) {
	out := make([]humangate.RevisionRequest, 0, len(pairs))
	for _, p := range pairs {
		area, desc, ok := strings.Cut(p, "=")
		area, desc = strings.TrimSpace(area), strings.TrimSpace(desc)
		if !ok || area == "" || desc == "" {
			return nil, fmt.Errorf("revision %q must look like area=description", p)
		}
		out = append(out, humangate.RevisionRequest{Area: area, Description: desc})
	}
	return out, nil
}

func fetchProgress(cmd *cobra.Command, id string) (*pipeline.Progress, error) {
	var p pipeline.Progress
	if err := newClient().do(cmd.Context(), "GET", "/api/v1/pipelines/"+id, true, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func renderProgress(w io.Writer, p *pipeline.Progress) {
	fmt.Fprintf(w, "Pipeline:  %s\n", p.ExecutionID)
	status := string(p.Status)
	if p.Paused {
		status += ", paused"
	}
	fmt.Fprintf(w, "Stage:     %s (%s)\n", p.Stage, status)
	fmt.Fprintf(w, "Progress:  %s %5.1f%%\n", progressBar(p.OverallProgress, 20), p.OverallProgress)
	if p.EstimatedCompletion != nil {
		fmt.Fprintf(w, "ETA:       %s\n", p.EstimatedCompletion.Local().Format(time.RFC1123))
	}
	if p.WorkflowID != "" && p.Status == pipeline.StatusWaitingApproval {
		fmt.Fprintf(w, "Awaiting:  founder approval (workflow %s)\n", p.WorkflowID)
	}
	if p.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", p.Error)
	}
}

func progressBar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	filled = max(0, min(filled, width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
