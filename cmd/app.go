package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"appfuel/bootstrap"
	"appfuel/mvc"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// AppHook lets a program built on appfuel register its actions before a
// command runs
type AppHook func(app *bootstrap.App) error

var hooks []AppHook

// OnApp adds a hook run on every application the commands build
func OnApp(hook AppHook) {
	hooks = append(hooks, hook)
}

func newApp(ctx context.Context, opts *options) (*bootstrap.App, error) {
	app, err := bootstrap.NewApp(ctx, opts.configFile)
	if err != nil {
		return nil, err
	}
	for _, hook := range hooks {
		if err := hook(app); err != nil {
			app.Shutdown()
			return nil, fmt.Errorf("failed to register actions: %w", err)
		}
	}
	return app, nil
}

func newServeCmd(opts *options) *cobra.Command {
	var showProgress bool
	c := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var s *spinner.Spinner
			if showProgress {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = " Opening connectors..."
				s.Start()
			}
			app, err := newApp(ctx, opts)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return err
			}
			defer app.Shutdown()

			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("failed to start application: %w", err)
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", app.Server.Addr())
			return app.WaitForShutdown()
		},
	}
	c.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator while starting")
	return c
}

func newRunCmd(opts *options) *cobra.Command {
	c := &cobra.Command{
		Use:   "run <uri> [args...]",
		Short: "Dispatch a route with the console strategy",
		Long: "Dispatch a route with the console strategy. Arguments after the uri become\n" +
			"the argv parameters: --key=value and --flag are named, the rest positional.",
		Example: "  appfuel run health\n  appfuel run report/daily --format=csv",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			status := app.RunConsole(cmd.Context(), args, cmd.OutOrStdout())
			if code := ExitCodeFor(status); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	// flags after the uri belong to the action
	c.Flags().SetInterspersed(false)
	return c
}

func newRoutesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the registered routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			headerColor.Fprintln(w, "ROUTE\tNAMESPACE\tACCESS")
			for _, route := range app.Actions.Routes() {
				ns, _ := app.Actions.Namespace(route)
				fmt.Fprintf(w, "%s\t%s\t%s\n", route, ns, describeAccess(app.Actions.Access(route)))
			}
			return w.Flush()
		},
	}
}

func describeAccess(access *mvc.RouteAccess) string {
	if access == nil {
		return "open"
	}
	var parts []string
	if access.IsPublicAccess() {
		parts = append(parts, "public")
	}
	if access.IsInternalOnlyAccess() {
		parts = append(parts, "internal")
	}
	if access.IsAclAccessIgnored() {
		parts = append(parts, "no-acl")
	}
	if codes := access.AclCodes(); len(codes) > 0 {
		parts = append(parts, "codes="+strings.Join(codes, ","))
	}
	if m := access.AclMap(); len(m) > 0 {
		methods := make([]string, 0, len(m))
		for method, codes := range m {
			methods = append(methods, method+"="+strings.Join(codes, ","))
		}
		sort.Strings(methods)
		parts = append(parts, methods...)
	}
	if len(parts) == 0 {
		return "restricted"
	}
	return strings.Join(parts, " ")
}
