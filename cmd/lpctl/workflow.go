package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/launchpad/internal/humangate"
)

var (
	workflowStatus string
	metricsDays    int
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Inspect and manage approval workflows",
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval workflows, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/workflows"
		if workflowStatus != "" {
			path += "?status=" + url.QueryEscape(workflowStatus)
		}
		var resp struct {
			Workflows []*humangate.Workflow `json:"workflows"`
		}
		if err := newClient().do(cmd.Context(), "GET", path, true, nil, &resp); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, wf := range resp.Workflows {
			fmt.Fprintf(w, "%s  %-20s %-18s %-7s expires %s\n",
				wf.ID, wf.Type, wf.Status, wf.Priority, wf.ExpiresAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var workflowGetCmd = &cobra.Command{
	Use:   "get <workflow-id>",
	Short: "Show one workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var wf humangate.Workflow
		if err := newClient().do(cmd.Context(), "GET", "/api/v1/workflows/"+args[0], true, nil, &wf); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), wf)
	},
}

var workflowRemindCmd = &cobra.Command{
	Use:   "remind <workflow-id>",
	Short: "Re-send the approval notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Sent bool `json:"sent"`
		}
		if err := newClient().do(cmd.Context(), "POST", "/api/v1/workflows/"+args[0]+"/remind", true, nil, &resp); err != nil {
			return err
		}
		if !resp.Sent {
			fmt.Fprintln(cmd.OutOrStdout(), "Workflow is no longer pending; no reminder sent")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Reminder sent")
		return nil
	},
}

var workflowCancelCmd = &cobra.Command{
	Use:   "cancel <workflow-id>",
	Short: "Cancel a pending workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Cancelled bool `json:"cancelled"`
		}
		if err := newClient().do(cmd.Context(), "POST", "/api/v1/workflows/"+args[0]+"/cancel", true, nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancelled: %t\n", resp.Cancelled)
		return nil
	},
}

var workflowMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Summarize approval response times and rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/workflows/metrics"
		if metricsDays > 0 {
			path += "?days=" + strconv.Itoa(metricsDays)
		}
		var m humangate.Metrics
		if err := newClient().do(cmd.Context(), "GET", path, true, nil, &m); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), m)
	},
}

func init() {
	workflowListCmd.Flags().StringVar(&workflowStatus, "status", "", "filter by status")
	workflowMetricsCmd.Flags().IntVar(&metricsDays, "days", 0, "window in days (server default 30)")
	workflowCmd.AddCommand(workflowListCmd, workflowGetCmd, workflowRemindCmd, workflowCancelCmd, workflowMetricsCmd)
}
