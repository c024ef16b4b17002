package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Act on an approval link as the founder",
	Long: `Act on an approval link as the founder. Accepts either the bare token
or the full approval URL.

Examples:
  lpctl approve show https://launchpad.example.com/api/v1/approve/eyJ...
  lpctl approve submit eyJ... --decision approve`,
}

var approveShowCmd = &cobra.Command{
	Use:   "show <token-or-url>",
	Short: "Show what an approval link is asking for",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var view map[string]any
		if err := newClient().do(cmd.Context(), "GET", "/api/v1/approve/"+url.PathEscape(tokenArg(args[0])), false, nil, &view); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), view)
	},
}

var approveSubmitCmd = &cobra.Command{
	Use:   "submit <token-or-url>",
	Short: "Submit the founder decision through an approval link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fb, err := buildFeedback()
		if err != nil {
			return err
		}
		var resp struct {
			WorkflowID      string `json:"workflow_id"`
			Status          string `json:"status"`
			ExecutionID     string `json:"execution_id"`
			ExecutionStatus string `json:"execution_status"`
		}
		path := "/api/v1/approve/" + url.PathEscape(tokenArg(args[0])) + "/feedback"
		if err := newClient().do(cmd.Context(), "POST", path, false, fb, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s is now %s\n", resp.WorkflowID, resp.Status)
		if resp.ExecutionID != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s is %s\n", resp.ExecutionID, resp.ExecutionStatus)
		}
		return nil
	},
}

// tokenArg accepts a bare token or an approval URL ending in the token.
func tokenArg(s string) string {
	s = strings.TrimSpace(s)
	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		s = strings.TrimRight(u.Path, "/")
		s = s[strings.LastIndex(s, "/")+1:]
		if t, err := url.PathUnescape(s); err == nil {
			return t
		}
	}
	return s
}

func init() {
	addFeedbackFlags(approveSubmitCmd)
	approveCmd.AddCommand(approveShowCmd, approveSubmitCmd)
}
