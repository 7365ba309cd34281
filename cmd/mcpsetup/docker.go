package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JuanVilla424/mcpsetup/internal/docker"
	"github.com/JuanVilla424/mcpsetup/internal/history"
	"github.com/JuanVilla424/mcpsetup/internal/session"
)

func dockerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docker",
		Short: "Manage the containers of Docker-installed servers",
	}

	action := func(name, short string, fn func(c *docker.Client) func(context.Context, string) error) *cobra.Command {
		return &cobra.Command{
			Use:   name + " <server>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
				err := fn(s.Docker)(ctx, args[0])
				outcome := "ok"
				if err != nil {
					outcome = "failure"
				}
				if _, herr := s.History.Record(ctx, history.Entry{
					Operation: history.OpContainer,
					Server:    args[0],
					Detail:    name,
					Outcome:   outcome,
				}); herr != nil {
					s.Logger.Warn("history write failed", "error", herr)
				}
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s\n", args[0], name)
				return nil
			}),
		}
	}

	var tail int
	logsCmd := &cobra.Command{
		Use:   "logs <server>",
		Short: "Print a server container's logs",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
			out, err := s.Docker.Logs(ctx, args[0], tail)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		}),
	}
	logsCmd.Flags().IntVarP(&tail, "tail", "n", 100, "Lines from the end (0 for all)")

	lsCmd := &cobra.Command{
		Use:   "list",
		Short: "List managed containers",
		RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
			list, err := s.Docker.List(ctx)
			if err != nil {
				return err
			}
			printContainers(list)
			return nil
		}),
	}

	var interval time.Duration
	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll managed containers until interrupted",
		RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
			return s.Docker.Monitor(ctx, interval, func(list []docker.ContainerInfo, err error) {
				fmt.Printf("\n%s\n", time.Now().Format("15:04:05"))
				if err != nil {
					fmt.Printf("  error: %v\n", err)
					return
				}
				printContainers(list)
			})
		}),
	}
	monitorCmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Poll interval")

	cmd.AddCommand(
		action("start", "Start a server container", func(c *docker.Client) func(context.Context, string) error { return c.Start }),
		action("stop", "Stop a server container", func(c *docker.Client) func(context.Context, string) error { return c.Stop }),
		action("restart", "Restart a server container", func(c *docker.Client) func(context.Context, string) error { return c.Restart }),
		action("remove", "Remove a server container", func(c *docker.Client) func(context.Context, string) error { return c.Remove }),
		logsCmd,
		lsCmd,
		monitorCmd,
	)
	return cmd
}

func printContainers(list []docker.ContainerInfo) {
	if len(list) == 0 {
		fmt.Println("  no managed containers")
		return
	}
	for _, c := range list {
		fmt.Printf("  %-20s %-12s %-10s %-28s %s\n", c.Server, c.ID, c.State, c.Image, c.Status)
	}
}
