package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для работы с задачами.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and cancel review tasks",
	}

	cmd.AddCommand(
		newTaskShowCmd(clientFn, outputFn),
		newTaskResultCmd(clientFn, outputFn),
		newTaskCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show TASK_ID",
		Short: "Show task status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := clientFn().GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTask(outputFn(), task)
			return nil
		},
	}
}

func newTaskResultCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "result TASK_ID",
		Short: "Print the review report of a finished task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			report, err := clientFn().GetResult(cmd.Context(), args[0])
			if errors.Is(err, ErrResultNotReady) {
				out.Success("Result is not ready yet")
				return nil
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.TaskError != nil {
				return fmt.Errorf("task failed: %s", apiErr.TaskError)
			}
			if err != nil {
				return err
			}

			printReport(out, report)
			return nil
		},
	}
}

func newTaskCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			task, err := clientFn().CancelTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if out.IsJSON() {
				out.JSON(task)
				return nil
			}
			out.Success(fmt.Sprintf("Task %s: %s", task.TaskID, task.Status))
			return nil
		},
	}
}

func printTask(out *Output, task *TaskResponse) {
	headers := []string{"TASK_ID", "REPO", "PR", "STATUS", "READY", "ERROR", "CREATED"}
	rows := [][]string{{
		task.TaskID, task.Repo, strconv.Itoa(task.PRNumber), task.Status,
		strconv.FormatBool(task.ResultReady), task.Error.String(), task.CreatedAt,
	}}
	out.Print(headers, rows, task)
}

func printReport(out *Output, report *Report) {
	if out.IsJSON() {
		out.JSON(report)
		return
	}

	out.Text("%s #%d", report.RepoURL, report.PRNumber)
	if report.HeadSHA != "" {
		out.Text(" @ %s", report.HeadSHA)
	}
	out.Text("\n\n%s\n\n", report.Summary)

	if len(report.Issues) == 0 {
		out.Text("No issues found.\n")
		return
	}

	headers := []string{"SEVERITY", "CATEGORY", "FILE", "LINE", "MESSAGE"}
	rows := make([][]string, len(report.Issues))
	for i, issue := range report.Issues {
		line := ""
		if issue.Line != nil {
			line = strconv.Itoa(*issue.Line)
		}
		rows[i] = []string{issue.Severity, issue.Category, issue.FilePath, line, issue.Message}
	}
	out.Table(headers, rows)
}
