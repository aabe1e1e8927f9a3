package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/tasklog"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage agent tasks",
}

var taskStartCmd = &cobra.Command{
	Use:   "start REPO_URL",
	Short: "Dispatch a new task against a repository",
	Long: `Starts a task: acquires a VM, clones REPO_URL, runs the configured
coding agent with the given context, and returns immediately with the
task's id. Use "hal task status" and "hal task logs" to follow it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoURL := args[0]
		taskContext, _ := cmd.Flags().GetString("context")
		branch, _ := cmd.Flags().GetString("branch")
		noPR, _ := cmd.Flags().GetBool("no-pr")
		planFirst, _ := cmd.Flags().GetBool("plan-first")
		timeoutS, _ := cmd.Flags().GetInt("timeout")
		wait, _ := cmd.Flags().GetBool("wait")

		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := domain.TaskOptions{
			Branch:    branch,
			NoPR:      noPR,
			PlanFirst: planFirst,
			TimeoutMs: timeoutS * 1000,
		}

		ctx := cmd.Context()
		if wait {
			task, err := a.orch.RunTask(ctx, repoURL, taskContext, opts)
			if err != nil {
				return err
			}
			printTask(task)
			return nil
		}

		id, err := a.orch.StartTask(ctx, repoURL, taskContext, opts)
		if err != nil {
			return err
		}
		fmt.Printf("task started: %s\n", id)
		return nil
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status ID_OR_SLUG",
	Short: "Show a task's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := lookupTask(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}
		printTask(task)
		return nil
	},
}

var taskLogsCmd = &cobra.Command{
	Use:   "logs ID_OR_SLUG",
	Short: "Tail a task's output log",
	Long: `Follows the task's log file from the beginning and exits the
moment the terminal sentinel line is read (spec.md §4.D: a tail reader
stops the moment it reads the sentinel). There is no non-following mode:
until the sentinel is written, the command keeps waiting for more output.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := lookupTask(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}

		lines, err := tasklog.TailLog(a.dataDir, task.ID)
		if err != nil {
			return fmt.Errorf("tail log: %w", err)
		}

		out := bufio.NewWriter(os.Stdout)
		defer out.Flush()
		for line := range lines {
			fmt.Fprintln(out, line.Text)
			if line.Done {
				out.Flush()
				if line.ExitCode != 0 {
					os.Exit(1)
				}
				return nil
			}
		}
		return nil
	},
}

func lookupTask(ctx context.Context, a *app, idOrSlug string) (*domain.Task, error) {
	if task, err := a.tasks.Get(ctx, idOrSlug); err == nil {
		return task, nil
	}
	return a.tasks.GetBySlug(ctx, idOrSlug)
}

func printTask(t *domain.Task) {
	fmt.Printf("id:        %s\n", t.ID)
	fmt.Printf("slug:      %s\n", t.Slug)
	fmt.Printf("status:    %s\n", t.Status)
	fmt.Printf("repo:      %s\n", t.RepoURL)
	if t.Branch != "" {
		fmt.Printf("branch:    %s\n", t.Branch)
	}
	if t.VMID != "" {
		fmt.Printf("vm:        %s\n", t.VMID)
	}
	if t.ExitCode != nil {
		fmt.Printf("exit code: %d\n", *t.ExitCode)
	}
	if t.PRURL != "" {
		fmt.Printf("pr:        %s\n", t.PRURL)
	}
	if t.Result != "" {
		fmt.Printf("result:    %s\n", t.Result)
	}
	fmt.Printf("created:   %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
}

func init() {
	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskLogsCmd)

	taskStartCmd.Flags().String("context", "", "Task instructions for the agent")
	taskStartCmd.Flags().String("branch", "", "Branch name override (default hal/<shortTaskId>)")
	taskStartCmd.Flags().Bool("no-pr", false, "Push the branch but skip opening a pull request")
	taskStartCmd.Flags().Bool("plan-first", false, "Run a plan pass before the execute pass")
	taskStartCmd.Flags().Int("timeout", 600, "Agent wall-clock budget in seconds")
	taskStartCmd.Flags().Bool("wait", false, "Block until the task finishes instead of returning immediately")
	taskStartCmd.MarkFlagRequired("context")
}
