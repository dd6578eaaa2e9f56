package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	gobzlrel "github.com/albertocavalcante/go-bzlrel"
	"github.com/albertocavalcante/go-bzlrel/config"
	"github.com/albertocavalcante/go-bzlrel/runctx"
	"github.com/albertocavalcante/go-bzlrel/scm"
	"github.com/albertocavalcante/go-bzlrel/version"
)

const defaultConfigPath = "bzlrel.yaml"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	fetchPush  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "bzlrel",
		Short: "Release engineering for multi-module Bazel workspaces",
		Long: `bzlrel creates and switches dynamic (branch) and static (tag) versions of
the modules of a workspace, and rewrites the bazel_dep references between
them to pin them to resolved versions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.fetchPush, "fetch-push", "", "override the fetch/push behavior (FETCH_PUSH, FETCH_NO_PUSH, NO_FETCH_NO_PUSH)")

	root.AddCommand(
		newReferencesCmd(flags),
		newGraphCmd(flags),
		newChangeReferencesCmd(flags),
		newCreateStaticCmd(flags),
		newNextVersionCmd(flags),
		newEquivalentCmd(flags),
		newSpecificVersionCmd(flags),
		newMapCmd(flags),
		newCheckoutCmd(flags),
		newVersionsCmd(flags),
		newLogCmd(flags),
		newBaseVersionCmd(flags),
		newStatusCmd(flags),
		newCreateVersionCmd(flags),
		newMergeCmd(flags),
		newReplaceCmd(flags),
	)
	return root
}

// newLogger returns a slog logger backed by a charmbracelet handler.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          "bzlrel",
		ReportTimestamp: true,
	})
	return slog.New(handler), nil
}

// openEngine loads the configuration and opens an engine. The caller must
// close it.
func openEngine(cmd *cobra.Command, flags *globalFlags) (*gobzlrel.Engine, error) {
	logger, err := newLogger(cmd.ErrOrStderr(), flags.logLevel)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	opts := []gobzlrel.Option{
		gobzlrel.WithLogger(logger),
		gobzlrel.WithNotifier(runctx.NotifierFunc(func(_ context.Context, msg string) {
			fmt.Fprintln(cmd.ErrOrStderr(), msg)
		})),
	}
	if flags.fetchPush != "" {
		b, err := scm.ParseFetchPushBehavior(flags.fetchPush)
		if err != nil {
			return nil, err
		}
		opts = append(opts, gobzlrel.WithFetchPushBehavior(b))
	}
	return gobzlrel.Open(cfg, opts...)
}

// withEngine runs fn with an opened engine and closes it afterwards.
func withEngine(flags *globalFlags, fn func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		eng, err := openEngine(cmd, flags)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := eng.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(cmd, eng, args)
	}
}

func parseModuleVersions(args []string) ([]version.ModuleVersion, error) {
	mvs := make([]version.ModuleVersion, 0, len(args))
	for _, a := range args {
		mv, err := version.ParseModuleVersion(a)
		if err != nil {
			return nil, err
		}
		mvs = append(mvs, mv)
	}
	return mvs, nil
}

// parseMapping parses "Domain/lib=S/1.0" assignments.
func parseMapping(pairs []string) (map[version.NodePath]version.Version, error) {
	mapping := make(map[version.NodePath]version.Version, len(pairs))
	for _, p := range pairs {
		path, ver, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid assignment %q: expected MODULE=VERSION", p)
		}
		np, err := version.ParseNodePath(path)
		if err != nil {
			return nil, err
		}
		if np.IsRoot() {
			return nil, fmt.Errorf("invalid assignment %q: empty module path", p)
		}
		v, err := version.Parse(ver)
		if err != nil {
			return nil, err
		}
		if _, dup := mapping[np]; dup {
			return nil, fmt.Errorf("module %s assigned twice", np)
		}
		mapping[np] = v
	}
	return mapping, nil
}
