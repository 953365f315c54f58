package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/lastfmproxy/lastfmproxy/internal/client"
	"github.com/lastfmproxy/lastfmproxy/internal/config"
	"github.com/lastfmproxy/lastfmproxy/internal/methods"
	"github.com/lastfmproxy/lastfmproxy/internal/observability"
	"github.com/lastfmproxy/lastfmproxy/internal/params"
	"github.com/spf13/cobra"
)

const defaultProxyURL = "http://localhost:8080"

type globalFlags struct {
	proxyURL    string
	sessionKey  string
	sessionFile string
	timeout     time.Duration
	verbose     bool
}

// fileSession reads the session key from a file on every call, so a key
// saved by another process is picked up without a restart.
type fileSession string

func (f fileSession) SessionKey(context.Context) (string, error) {
	b, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("read session file: %w", err)
	}
	sk := strings.TrimSpace(string(b))
	if sk == "" {
		return "", client.ErrAuthRequired
	}
	return sk, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "lastfm-cli",
		Short:         "Query the Last.fm API through a lastfm-proxy deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.proxyURL, "proxy-url", envOr("LASTFM_PROXY_URL", defaultProxyURL), "base URL of the proxy")
	pf.StringVar(&g.sessionKey, "session-key", os.Getenv("LASTFM_SESSION_KEY"), "session key for user-scoped methods")
	pf.StringVar(&g.sessionFile, "session-file", "", "file holding the session key")
	pf.DurationVar(&g.timeout, "timeout", 30*time.Second, "per-request timeout")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log requests to stderr")

	root.AddCommand(
		newCallCmd(g),
		newAuthURLCmd(g),
		newHealthCmd(g),
		newMethodsCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "lastfm-cli %s\n", version)
			},
		},
	)
	return root
}

func (g *globalFlags) client(cmd *cobra.Command) (*client.Client, error) {
	level := config.LogLevelWarn
	if g.verbose {
		level = config.LogLevelDebug
	}
	opts := []client.Option{
		client.WithTimeout(g.timeout),
		client.WithLogger(observability.NewLoggerTo(cmd.ErrOrStderr(), level, config.LogFormatText)),
	}
	switch {
	case g.sessionKey != "":
		opts = append(opts, client.WithAuthenticator(client.StaticSession(g.sessionKey)))
	case g.sessionFile != "":
		opts = append(opts, client.WithAuthenticator(fileSession(g.sessionFile)))
	}
	return client.New(g.proxyURL, opts...)
}

func newCallCmd(g *globalFlags) *cobra.Command {
	var auth bool
	cmd := &cobra.Command{
		Use:   "call <method> [name=value ...]",
		Short: "Call a Last.fm method, e.g. call artist.getInfo artist=Cher",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			c, err := g.client(cmd)
			if err != nil {
				return err
			}

			call := c.Call
			if auth {
				call = c.CallAuthenticated
			}
			body, err := call(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().BoolVar(&auth, "auth", false, "send the session key as sk")
	return cmd
}

func newAuthURLCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "auth-url",
		Short: "Print the browser login URL for desktop authentication",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client(cmd)
			if err != nil {
				return err
			}
			u, err := c.AuthURL(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
}

func newHealthCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the proxy is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client(cmd)
			if err != nil {
				return err
			}
			if err := c.Health(cmd.Context()); err != nil {
				return fmt.Errorf("proxy unhealthy: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func newMethodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods [category]",
		Short: "List the supported methods and their required parameters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			category := ""
			for _, m := range methods.All() {
				if len(args) == 1 && m.Category() != args[0] {
					continue
				}
				if m.Category() != category {
					category = m.Category()
					fmt.Fprintf(w, "%s\n", category)
				}
				req := required(m.Spec)
				if m.Privileged {
					req += " (signed by the proxy)"
				}
				fmt.Fprintf(w, "  %-28s %s\n", m.Name, req)
			}
			if category == "" && len(args) == 1 {
				return fmt.Errorf("no methods in category %q", args[0])
			}
			return nil
		},
	}
}

// required renders a parameter rule for listing: "a, b" needs both, "a | b"
// needs either.
func required(s methods.Spec) string {
	switch s.Kind {
	case methods.KindSingle, methods.KindAllOf:
		return strings.Join(s.Keys, ", ")
	case methods.KindAnyOf:
		return strings.Join(s.Keys, " | ")
	case methods.KindCombined:
		return "(" + strings.Join(s.Keys, ", ") + ") | " + s.Alt
	}
	return "-"
}

func parseParams(args []string) (params.Set, error) {
	p := make(params.Set, len(args))
	for _, a := range args {
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, want name=value", a)
		}
		p[name] = value
	}
	return p, nil
}

func printJSON(w io.Writer, body json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
