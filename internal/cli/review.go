package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewReviewCmd создаёт группу команд для постановки PR на анализ.
func NewReviewCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Submit pull requests for review",
	}

	cmd.AddCommand(
		newReviewSubmitCmd(clientFn, outputFn),
		newReviewBatchCmd(clientFn, outputFn),
	)

	return cmd
}

func newReviewSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var token string
	var force bool
	var wait bool
	var interval time.Duration
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "submit REPO PR_NUMBER",
		Short: "Submit a pull request for review",
		Example: `  prreview review submit https://github.com/octo/repo 42
  prreview review submit octo/repo 42 --wait`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			number, err := parsePRNumber(args[1])
			if err != nil {
				return err
			}

			taskID, err := client.SubmitReview(cmd.Context(), SubmitReviewRequest{
				RepoURL:     args[0],
				PRNumber:    number,
				GitHubToken: token,
				Force:       force,
			})
			if err != nil {
				return err
			}

			if !wait {
				out.Print([]string{"TASK_ID"}, [][]string{{taskID}}, map[string]string{"task_id": taskID})
				return nil
			}

			out.Success(fmt.Sprintf("Task %s submitted, waiting...", taskID))

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			task, err := client.WaitTask(ctx, taskID, interval)
			if err != nil {
				return err
			}
			if task.Status != "SUCCEEDED" {
				printTask(out, task)
				return fmt.Errorf("task %s %s: %s", task.TaskID, strings.ToLower(task.Status), task.Error)
			}

			report, err := client.GetResult(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			printReport(out, report)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "GitHub token (default: server configuration)")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the result cache")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the task to finish and print the report")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval for --wait")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Maximum time to wait with --wait")

	return cmd
}

func newReviewBatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var token string
	var force bool

	cmd := &cobra.Command{
		Use:     "batch REPO#PR_NUMBER...",
		Short:   "Review several pull requests and wait for all results",
		Example: `  prreview review batch octo/repo#1 octo/repo#2 https://github.com/octo/other#7`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			reqs := make([]SubmitReviewRequest, len(args))
			for i, arg := range args {
				repo, number, err := parseBatchItem(arg)
				if err != nil {
					return err
				}
				reqs[i] = SubmitReviewRequest{RepoURL: repo, PRNumber: number, GitHubToken: token, Force: force}
			}

			result, err := client.SubmitBatch(cmd.Context(), reqs)
			if err != nil {
				return err
			}

			headers := []string{"#", "REPO", "PR", "STATUS", "TASK_ID", "ISSUES", "ERROR"}
			rows := make([][]string, len(result.Results))
			for i, r := range result.Results {
				issues := ""
				if r.Result != nil {
					issues = strconv.Itoa(len(r.Result.Issues))
				}
				rows[i] = []string{
					strconv.Itoa(r.Index), r.RepoURL, strconv.Itoa(r.PRNumber),
					r.Status, r.TaskID, issues, r.Error.String(),
				}
			}

			out.Print(headers, rows, result)
			if !out.IsJSON() {
				out.Success(fmt.Sprintf("Batch %s: %d succeeded, %d failed in %s",
					result.BatchID, result.Succeeded, result.Failed,
					time.Duration(result.DurationMS)*time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "GitHub token for every item (default: server configuration)")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the result cache")

	return cmd
}

// parseBatchItem разбирает "owner/repo#42" или "https://github.com/owner/repo#42".
func parseBatchItem(s string) (string, int, error) {
	i := strings.LastIndex(s, "#")
	if i <= 0 || i == len(s)-1 {
		return "", 0, fmt.Errorf("invalid item %q: expected REPO#PR_NUMBER", s)
	}
	number, err := parsePRNumber(s[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid item %q: %w", s, err)
	}
	return s[:i], number, nil
}

func parsePRNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid pull request number %q", s)
	}
	return n, nil
}
