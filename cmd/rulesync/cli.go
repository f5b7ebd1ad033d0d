package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/rulesync/internal/apply"
	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/log"
	"github.com/hpungsan/rulesync/internal/ops"
	"github.com/hpungsan/rulesync/internal/panel"
	"github.com/hpungsan/rulesync/internal/web"
)

// stdinInteractive reports whether apply may prompt on stdin. Tests replace it.
var stdinInteractive = isTerminal

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "rulesync",
		Usage:   "Browse, sync and apply editor rule files",
		Version: Version,
		Commands: []*cli.Command{
			listCmd(e),
			showCmd(e),
			categoriesCmd(e),
			syncCmd(e),
			statusCmd(e),
			applyCmd(e),
			panelCmd(e),
			serveCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func listCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List rules in the catalogue",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tag", Aliases: []string{"t"}, Usage: "Only rules with this tag (case-insensitive)"},
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Substring match over title, slug, tags and libs"},
			&cli.BoolFlag{Name: "content", Usage: "Include rule content"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.List(c.Context, e.cat, ops.ListInput{
				Tag:            c.String("tag"),
				Query:          c.String("query"),
				IncludeContent: c.Bool("content"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

func showCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one rule",
		ArgsUsage: "<slug>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "html", Usage: "Print the content rendered as sanitized HTML"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Show(c.Context, e.cat, ops.ShowInput{Slug: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("html") {
				_, err := fmt.Fprintln(c.App.Writer, string(web.RenderMarkdown(output.Rule.Content)))
				return err
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

func categoriesCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "categories",
		Usage: "List tags with rule counts",
		Action: func(c *cli.Context) error {
			output, err := ops.Categories(c.Context, e.cat)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

func syncCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Fetch the remote catalogue now",
		Action: func(c *cli.Context) error {
			output, err := ops.Sync(c.Context, e.cat)
			if err != nil {
				return outputError(err)
			}
			// Rules are large; the count is enough here.
			return outputJSON(c.App.Writer, map[string]any{
				"count":     output.Count,
				"last_sync": output.LastSync,
			})
		},
	}
}

func statusCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show cache freshness and recent sync runs",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "runs", Value: ops.DefaultRunLimit, Usage: "Number of sync runs to show (max 100)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Status(c.Context, e.cat, ops.StatusInput{RunLimit: c.Int("runs")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

func applyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "apply",
		Usage:     "Write a rule to the workspace rules file",
		ArgsUsage: "<slug>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "Workspace root (default: current directory)"},
			&cli.StringFlag{Name: "target", Usage: "File to write, relative to the workspace root"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Overwrite an existing file without asking"},
			&cli.BoolFlag{Name: "allow-outside-workspace", Usage: "Permit a --target outside the workspace root"},
		},
		Action: func(c *cli.Context) error {
			applier := &apply.Applier{
				Workspace: apply.Dir(workspaceDir(c)),
				Confirm: &promptConfirmer{
					in:          os.Stdin,
					out:         c.App.ErrWriter,
					assumeYes:   c.Bool("yes"),
					interactive: stdinInteractive(),
				},
				Notify:   &streamNotifier{w: c.App.ErrWriter},
				FileName: e.cfg.TargetFile,
				Logger:   log.WithComponent("apply"),

				AllowOutsideWorkspace: c.Bool("allow-outside-workspace"),
			}

			output, err := ops.Apply(c.Context, e.cat, applier, ops.ApplyInput{
				Slug:   c.Args().First(),
				Target: c.String("target"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

func panelCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "panel",
		Usage: "Serve the panel message channel (JSON lines on stdin/stdout)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "Workspace root (default: current directory)"},
		},
		Action: func(c *cli.Context) error {
			host := panel.New(e.cat, panel.Options{
				Workspace: apply.Dir(workspaceDir(c)),
				FileName:  e.cfg.TargetFile,
				Logger:    log.WithComponent("panel"),
			})
			if err := host.Serve(c.Context, os.Stdin, c.App.Writer); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the local web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8420, Usage: "Port to listen on"},
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "Default workspace root for apply"},
		},
		Action: func(c *cli.Context) error {
			logger := log.WithComponent("web")
			srv := web.NewServer(e.cat, e.cfg, web.Options{
				Workspace: workspaceDir(c),
				Version:   Version,
				Logger:    logger,
			}, c.String("bind"), c.Int("port"))

			fmt.Fprintf(c.App.ErrWriter, "rulesync UI at http://%s\n", srv.Addr)
			return web.Run(c.Context, srv, logger)
		},
	}
}

// workspaceDir returns --dir, falling back to the working directory.
// An empty result means no workspace.
func workspaceDir(c *cli.Context) string {
	if dir := c.String("dir"); dir != "" {
		return dir
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return cwd
}

// promptConfirmer asks y/N on a terminal. Without a terminal it declines unless
// assumeYes is set.
type promptConfirmer struct {
	in          io.Reader
	out         io.Writer
	assumeYes   bool
	interactive bool
}

func (p *promptConfirmer) Confirm(ctx context.Context, message string) (bool, error) {
	if p.assumeYes {
		return true, nil
	}
	if !p.interactive {
		return false, nil
	}

	fmt.Fprintf(p.out, "%s [y/N]: ", message)

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(p.in).ReadString('\n')
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// streamNotifier prints apply notifications for the user.
type streamNotifier struct {
	w io.Writer
}

func (n *streamNotifier) Info(_ context.Context, message string) {
	fmt.Fprintln(n.w, message)
}

func (n *streamNotifier) Error(_ context.Context, message string) {
	fmt.Fprintf(n.w, "error: %s\n", message)
}

// outputJSON marshals result to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if rErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", rErr.Code, rErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
