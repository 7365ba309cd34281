package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
	"github.com/JuanVilla424/mcpsetup/internal/config"
	"github.com/JuanVilla424/mcpsetup/internal/dashboard"
	"github.com/JuanVilla424/mcpsetup/internal/discovery"
	"github.com/JuanVilla424/mcpsetup/internal/health"
	"github.com/JuanVilla424/mcpsetup/internal/history"
	"github.com/JuanVilla424/mcpsetup/internal/install"
	"github.com/JuanVilla424/mcpsetup/internal/session"
	"github.com/JuanVilla424/mcpsetup/internal/syscheck"
	"github.com/JuanVilla424/mcpsetup/internal/targets"
	"github.com/JuanVilla424/mcpsetup/internal/templates"
	"github.com/JuanVilla424/mcpsetup/internal/web"
)

var version = "0.4.0"

var debugFlag bool

func main() {
	dashboard.Version = version

	rootCmd := &cobra.Command{
		Use:           "mcpsetup",
		Short:         "Discover, install and wire MCP servers into your IDEs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runGUI,
	}
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		&cobra.Command{Use: "gui", Short: "Open the terminal UI (default)", RunE: runGUI},
		checkCmd(),
		webCmd(),
		discoverCmd(),
		listCmd(),
		installCmd(),
		configureCmd(),
		uninstallCmd(),
		targetsCmd(),
		createCmd(),
		dockerCmd(),
		verifyCmd(),
		historyCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openSession loads the config and builds the session. Plain subcommands
// mirror logs to stderr; the TUI keeps them in its panel.
func openSession(ctx context.Context, stderr bool) (*session.Session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if debugFlag {
		cfg.Debug = true
	}
	return session.New(ctx, cfg, session.Options{Version: version, Stderr: stderr})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// withSession runs fn with a session and a signal-aware context.
func withSession(fn func(ctx context.Context, s *session.Session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		s, err := openSession(ctx, debugFlag)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(ctx, s, args)
	}
}

func runGUI(cmd *cobra.Command, args []string) error {
	s, err := openSession(context.Background(), false)
	if err != nil {
		return err
	}
	defer s.Close()
	return dashboard.Run(s)
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report platform, connectivity, tools and detected IDEs",
		RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
			rep := s.SystemCheck(ctx)
			fmt.Printf("Platform: %s\n\n", rep.Platform)
			for _, c := range rep.Checks {
				mark := "ok"
				if !c.OK {
					mark = "FAIL"
					if !c.Critical {
						mark = "warn"
					}
				}
				detail := c.Detail
				if c.Version != "" {
					detail = c.Version + " " + detail
				}
				fmt.Printf("  %-4s %-14s %s\n", mark, c.Name, strings.TrimSpace(detail))
			}
			fmt.Printf("\nStatus: %s (%s)\n", rep.Status, rep.Took.Round(time.Millisecond))
			if rep.Status == syscheck.StatusFailed {
				return errors.New("critical checks failed")
			}
			return nil
		}),
	}
}

func webCmd() *cobra.Command {
	var (
		host        string
		port        int
		setPassword bool
	)
	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the web dashboard and JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if setPassword {
				return promptPassword()
			}
			ctx, cancel := signalContext()
			defer cancel()
			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close()
			if host != "" {
				s.Config.WebHost = host
			}
			if port != 0 {
				s.Config.WebPort = port
			}
			return web.NewServer(s).Start(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (default from config)")
	cmd.Flags().BoolVar(&setPassword, "set-password", false, "Prompt for a dashboard password and save its hash")
	return cmd
}

func promptPassword() error {
	var pw, confirm string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Dashboard password").EchoMode(huh.EchoModePassword).Value(&pw),
		huh.NewInput().Title("Confirm password").EchoMode(huh.EchoModePassword).Value(&confirm),
	))
	if err := form.Run(); err != nil {
		return err
	}
	if pw != confirm {
		return errors.New("passwords do not match")
	}
	hash, err := web.HashPassword(pw)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.WebPasswordHash = hash
	if err := config.Save(cfg); err != nil {
		return err
	}
	fmt.Println("Password saved to", config.Path())
	return nil
}

func discoverCmd() *cobra.Command {
	var local, refresh, add bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Aggregate servers from the catalog and public registries",
		RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
			if local && refresh {
				return errors.New("--local and --refresh are mutually exclusive")
			}
			mode := discovery.RefreshAll
			if local {
				mode = discovery.LocalOnly
			}
			res := s.Discover(ctx, mode, func(b discovery.Batch) {
				fmt.Printf("  %-12s %d servers\n", b.Source, len(b.Descriptors))
			})
			for _, e := range res.Errors {
				fmt.Printf("  %-12s failed: %v\n", e.Source, e.Err)
			}
			if len(res.Skipped) > 0 {
				fmt.Printf("  skipped: %s\n", strings.Join(res.Skipped, ", "))
			}
			fmt.Printf("\n%d servers after merge\n", len(res.Descriptors))

			var fresh []catalog.ServerDescriptor
			for _, d := range res.Descriptors {
				if _, ok := s.Catalog().Get(d.ID); !ok {
					fresh = append(fresh, d)
				}
			}
			if !add {
				for _, d := range fresh {
					fmt.Printf("  new  %-28s %-7s %s\n", d.ID, d.Kind, d.Source)
				}
				return nil
			}
			added, err := s.AddToCatalog(ctx, fresh)
			fmt.Printf("%d servers added to %s\n", len(added), s.Config.CatalogPath)
			return err
		}),
	}
	cmd.Flags().BoolVar(&local, "local", false, "Only read the local catalog")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Query every source (default)")
	cmd.Flags().BoolVar(&add, "add", false, "Append newly found servers to the catalog")
	return cmd
}

func listCmd() *cobra.Command {
	var profiles bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog servers",
		RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
			c := s.Catalog()
			if profiles {
				for _, name := range c.ProfileNames() {
					p := c.Profiles[name]
					fmt.Printf("%-16s %s\n", name, strings.Join(p.Servers, ", "))
				}
				return nil
			}
			for _, d := range c.List() {
				fallback := ""
				if d.Fallback != nil {
					fallback = "-> " + string(d.Fallback.Kind)
				}
				fmt.Printf("%-28s %-7s %-10s %s\n", d.ID, d.Kind, fallback, d.Description)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&profiles, "profiles", false, "List profiles instead of servers")
	return cmd
}

func installCmd() *cobra.Command {
	var (
		profile string
		tgts    []string
	)
	cmd := &cobra.Command{
		Use:   "install [id...]",
		Short: "Install servers and write them into IDE configs",
		RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
			if len(args) == 0 && profile == "" {
				return errors.New("give server ids or --profile")
			}
			descs, err := s.Resolve(args, profile)
			if err != nil {
				return err
			}
			selected, err := s.SelectTargets(tgts)
			if err != nil {
				return err
			}
			if len(selected) == 0 {
				fmt.Println("No IDE detected; servers will be installed but not configured.")
			}
			reps := s.InstallMany(ctx, descs, selected, func(p install.Progress) {
				fmt.Printf("  [%s] %-13s %s\n", p.Server, p.Stage, p.Message)
			})
			failed := 0
			for _, rep := range reps {
				a := rep.Attempt
				if !a.Succeeded() {
					failed++
					fmt.Printf("x %s: %s\n", a.Descriptor.ID, a.Detail)
					continue
				}
				fmt.Printf("+ %s installed via %s (%s, %s)\n", a.Descriptor.ID, a.Kind, a.Path, a.Duration.Round(time.Second))
				for _, w := range a.Warnings {
					fmt.Printf("    warning: %s\n", w)
				}
				printResults(rep.Configs)
				if len(rep.Skipped) > 0 {
					fmt.Printf("    not supported by: %s\n", strings.Join(rep.Skipped, ", "))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d installs failed", failed, len(reps))
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Install every server in a catalog profile")
	cmd.Flags().StringSliceVarP(&tgts, "target", "t", nil, "Target ids to write (default: detected)")
	return cmd
}

func printResults(results []targets.Result) {
	for _, r := range results {
		switch {
		case !r.OK():
			fmt.Printf("    %-14s failed: %v\n", r.Target, r.Err)
		case r.Warning != "":
			fmt.Printf("    %-14s %s (%s)\n", r.Target, r.Path, r.Warning)
		default:
			fmt.Printf("    %-14s %s\n", r.Target, r.Path)
		}
	}
}

func configureCmd() *cobra.Command {
	var tgts []string
	cmd := &cobra.Command{
		Use:   "configure <id>",
		Short: "Write an installed server into IDE configs again",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
			selected, err := s.SelectTargets(tgts)
			if err != nil {
				return err
			}
			res, err := s.Configure(ctx, args[0], selected)
			if err != nil {
				return err
			}
			printResults(res)
			return nil
		}),
	}
	cmd.Flags().StringSliceVarP(&tgts, "target", "t", nil, "Target ids to write (default: detected)")
	return cmd
}

func uninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <id>...",
		Short: "Remove servers and their IDE config entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
			var errs []error
			for _, id := range args {
				rep := s.Uninstall(ctx, id)
				for _, r := range rep.Removed {
					fmt.Printf("- %s removed from %s\n", id, r.Target)
				}
				if rep.Err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, rep.Err))
				}
			}
			return errors.Join(errs...)
		}),
	}
}

func targetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List supported IDEs and the servers configured in each",
		RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
			for _, t := range s.Targets {
				for _, sub := range t.All() {
					state := "not found"
					if sub.Installed() {
						state = "detected"
					}
					if !s.Config.TargetEnabled(sub.ID) {
						state += ", disabled"
					}
					indent := ""
					if sub.Parent != "" {
						indent = "  "
					}
					fmt.Printf("%s%-16s %-12s %s\n", indent, sub.ID, state, sub.ConfigFile)
					if !sub.Installed() {
						continue
					}
					servers, err := s.Writer.ListServers(sub)
					if err != nil {
						fmt.Printf("%s    unreadable: %v\n", indent, err)
						continue
					}
					for _, srv := range servers {
						fmt.Printf("%s    %-24s %s %s\n", indent, srv.ID, srv.Command, strings.Join(srv.Args, " "))
					}
				}
			}
			return nil
		}),
	}
}

func createCmd() *cobra.Command {
	var (
		tmpl string
		file string
		list bool
		sets []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a custom server to the catalog from a template",
		RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
			if list {
				all, err := s.Templates.List()
				if err != nil {
					return err
				}
				for _, t := range all {
					fmt.Printf("%-4d %-16s %s\n", t.ID, t.Name, t.Description)
				}
				return nil
			}
			values := make(map[string]any, len(sets))
			for _, kv := range sets {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("--set %q: expected KEY=VALUE", kv)
				}
				values[k] = v
			}
			f := &templates.Filler{Values: values, LookupEnv: os.LookupEnv, Prompter: templates.HuhPrompter{}}

			var (
				d   catalog.ServerDescriptor
				err error
			)
			switch {
			case file != "":
				content, rerr := os.ReadFile(file)
				if rerr != nil {
					return rerr
				}
				d, err = s.CreateFromContent(ctx, content, f)
			case tmpl != "":
				d, err = s.CreateFromTemplate(ctx, tmpl, f)
			default:
				return errors.New("give --template or --file")
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s added to the catalog; install it with: mcpsetup install %s\n", d.ID, d.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&tmpl, "template", "", "Template name or id (see --list)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Template file (JSON or YAML)")
	cmd.Flags().BoolVar(&list, "list", false, "List available templates")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Placeholder value KEY=VALUE")
	return cmd
}

func verifyCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "verify [id]",
		Short: "Launch installed servers and check they answer MCP",
		Args:  cobra.MaximumNArgs(1),
		RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
			var reports []health.Report
			switch {
			case len(args) == 1:
				reports = append(reports, s.Verify(ctx, args[0]))
			case all:
				var err error
				if reports, err = s.VerifyAll(ctx); err != nil {
					return err
				}
			default:
				return errors.New("give a server id or --all")
			}
			unhealthy := 0
			for _, r := range reports {
				if !r.Healthy() {
					unhealthy++
					fmt.Printf("x %-24s %s\n", r.Server, r.Error)
					continue
				}
				fmt.Printf("+ %-24s %s %s, %d tools (%s)\n", r.Server, r.ServerName, r.ServerVersion, len(r.Tools), r.Latency.Round(time.Millisecond))
			}
			if unhealthy > 0 {
				return fmt.Errorf("%d of %d servers unhealthy", unhealthy, len(reports))
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "Verify every installed server")
	return cmd
}

func historyCmd() *cobra.Command {
	var (
		server    string
		limit     int
		pruneDays int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the install and config journal",
		RunE: withSession(func(ctx context.Context, s *session.Session, args []string) error {
			if pruneDays > 0 {
				n, err := s.History.Prune(ctx, time.Now().AddDate(0, 0, -pruneDays))
				if err != nil {
					return err
				}
				fmt.Printf("%d entries pruned\n", n)
				return nil
			}
			var (
				entries []history.Entry
				err     error
			)
			if server != "" {
				entries, err = s.History.ForServer(ctx, server, limit)
			} else {
				entries, err = s.History.Recent(ctx, limit)
			}
			if err != nil {
				return err
			}
			for _, e := range entries {
				where := e.Target
				if where == "" {
					where = strings.TrimSpace(e.Kind + " " + e.Path)
				}
				fmt.Printf("%s  %-11s %-24s %-18s %-16s %s\n",
					e.At.Format("2006-01-02 15:04:05"), e.Operation, e.Server, where, e.Outcome, e.Detail)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "Only entries for this server")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries")
	cmd.Flags().IntVar(&pruneDays, "prune-days", 0, "Delete entries older than this many days")
	return cmd
}
