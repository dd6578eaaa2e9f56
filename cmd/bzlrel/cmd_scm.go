package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	gobzlrel "github.com/albertocavalcante/go-bzlrel"
	"github.com/albertocavalcante/go-bzlrel/scm"
	"github.com/albertocavalcante/go-bzlrel/version"
)

// inSystemDir checks mv out in a system directory, runs fn there and
// releases the directory.
func inSystemDir(ctx context.Context, eng *gobzlrel.Engine, mv version.ModuleVersion, fn func(adapter scm.Adapter, dir string) error) error {
	adapter, err := eng.SCM(mv.NodePath)
	if err != nil {
		return err
	}
	dir, err := adapter.CheckoutSystem(ctx, mv.Version)
	if err != nil {
		return err
	}
	defer adapter.Release(dir)
	return fn(adapter, dir)
}

func newCheckoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "checkout MODULE[:VERSION]",
		Short: "Materialize a module version in its user directory",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			mv, err := version.ParseModuleVersion(args[0])
			if err != nil {
				return err
			}
			dir, err := eng.Checkout(cmd.Context(), mv)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		}),
	}
}

func newVersionsCmd(flags *globalFlags) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "versions MODULE",
		Short: "List the versions of a module",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			path, err := version.ParseNodePath(args[0])
			if err != nil {
				return err
			}
			adapter, err := eng.SCM(path)
			if err != nil {
				return err
			}
			types := []version.Type{version.Dynamic, version.Static}
			if typ != "" {
				t, err := version.ParseType(strings.ToUpper(typ))
				if err != nil {
					return err
				}
				types = []version.Type{t}
			}
			for _, t := range types {
				vs, err := adapter.Versions(cmd.Context(), t)
				if err != nil {
					return err
				}
				for _, v := range vs {
					fmt.Fprintln(cmd.OutOrStdout(), v)
				}
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "only list versions of this type (D or S)")
	return cmd
}

func newLogCmd(flags *globalFlags) *cobra.Command {
	var (
		skip     int
		maxCount int
		diverge  string
	)
	cmd := &cobra.Command{
		Use:   "log MODULE:VERSION",
		Short: "List the commits of a version, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			mv, err := version.ParseModuleVersion(args[0])
			if err != nil {
				return err
			}
			adapter, err := eng.SCM(mv.NodePath)
			if err != nil {
				return err
			}
			opts := scm.CommitOptions{Skip: skip, MaxCount: maxCount, Message: true, Attributes: true, StaticVersions: true}
			var page scm.CommitPage
			if diverge != "" {
				dest, err := version.Parse(diverge)
				if err != nil {
					return err
				}
				page, err = adapter.ListCommitDiverge(cmd.Context(), mv.Version, dest, opts)
				if err != nil {
					return err
				}
			} else if page, err = adapter.ListCommit(cmd.Context(), mv.Version, opts); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range page.Commits {
				line := c.ID + " " + firstLine(c.Message)
				for _, v := range c.StaticVersions {
					line += " [" + v.String() + "]"
				}
				fmt.Fprintln(out, line)
				for _, k := range c.Attributes.Keys() {
					fmt.Fprintf(out, "    %s=%s\n", k, c.Attributes[k])
				}
			}
			if !page.Done {
				fmt.Fprintln(out, "...")
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&skip, "skip", 0, "number of commits to skip from the tip")
	cmd.Flags().IntVarP(&maxCount, "max-count", "n", 20, "maximum number of commits (0 for all)")
	cmd.Flags().StringVar(&diverge, "not-in", "", "only list commits missing from this version")
	return cmd
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func newBaseVersionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "base-version MODULE:VERSION",
		Short: "Print the version a version was created from",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			mv, err := version.ParseModuleVersion(args[0])
			if err != nil {
				return err
			}
			adapter, err := eng.SCM(mv.NodePath)
			if err != nil {
				return err
			}
			base, err := adapter.BaseVersion(cmd.Context(), mv.Version)
			if err != nil {
				return err
			}
			if base == nil {
				return fmt.Errorf("%s: no base version recorded", mv)
			}
			fmt.Fprintln(cmd.OutOrStdout(), base)
			return nil
		}),
	}
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var remoteOnly, localOnly bool
	cmd := &cobra.Command{
		Use:   "status MODULE:VERSION",
		Short: "Check that a module version is synchronized with its remote",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			mv, err := version.ParseModuleVersion(args[0])
			if err != nil {
				return err
			}
			flagsToCheck := scm.AllChanges
			switch {
			case remoteOnly && !localOnly:
				flagsToCheck = scm.RemoteChanges
			case localOnly && !remoteOnly:
				flagsToCheck = scm.LocalChanges
			}
			return inSystemDir(cmd.Context(), eng, mv, func(adapter scm.Adapter, dir string) error {
				ok, err := adapter.IsSync(cmd.Context(), dir, flagsToCheck)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s: %w", mv, scm.ErrNotSync)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: synchronized\n", mv)
				return nil
			})
		}),
	}
	cmd.Flags().BoolVar(&remoteOnly, "remote", false, "only check for remote changes")
	cmd.Flags().BoolVar(&localOnly, "local", false, "only check for local changes")
	return cmd
}

func newCreateVersionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create-version MODULE:VERSION TARGET",
		Short: "Create a version from the tip of another",
		Args:  cobra.ExactArgs(2),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			mv, err := version.ParseModuleVersion(args[0])
			if err != nil {
				return err
			}
			target, err := version.Parse(args[1])
			if err != nil {
				return err
			}
			return inSystemDir(cmd.Context(), eng, mv, func(adapter scm.Adapter, dir string) error {
				if err := adapter.CreateVersion(cmd.Context(), dir, target, nil, false); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), version.NewModuleVersion(mv.NodePath, target))
				return nil
			})
		}),
	}
}

func newMergeCmd(flags *globalFlags) *cobra.Command {
	var (
		exclude []string
		message string
	)
	cmd := &cobra.Command{
		Use:   "merge MODULE:D/NAME SOURCE",
		Short: "Merge a version into a dynamic version, optionally excluding commits",
		Args:  cobra.ExactArgs(2),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			mv, err := version.ParseModuleVersion(args[0])
			if err != nil {
				return err
			}
			src, err := version.Parse(args[1])
			if err != nil {
				return err
			}
			if message == "" {
				message = fmt.Sprintf("Merge %s into %s", src, mv.Version)
			}
			return inSystemDir(cmd.Context(), eng, mv, func(adapter scm.Adapter, dir string) error {
				var res scm.MergeResult
				var err error
				if len(exclude) > 0 {
					res, err = adapter.MergeExcludeCommits(cmd.Context(), dir, src, exclude, message)
				} else {
					res, err = adapter.Merge(cmd.Context(), dir, src, message)
				}
				if err != nil {
					return err
				}
				return reportMerge(cmd, adapter, mv, res, dir)
			})
		}),
	}
	cmd.Flags().StringArrayVar(&exclude, "exclude", nil, "commit to leave out of the merge (repeatable)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "merge commit message")
	return cmd
}

func newReplaceCmd(flags *globalFlags) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "replace MODULE:D/NAME SOURCE",
		Short: "Make a dynamic version identical to another while recording a merge",
		Args:  cobra.ExactArgs(2),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			mv, err := version.ParseModuleVersion(args[0])
			if err != nil {
				return err
			}
			src, err := version.Parse(args[1])
			if err != nil {
				return err
			}
			if message == "" {
				message = fmt.Sprintf("Replace %s with %s", mv.Version, src)
			}
			return inSystemDir(cmd.Context(), eng, mv, func(adapter scm.Adapter, dir string) error {
				res, err := adapter.Replace(cmd.Context(), dir, src, message)
				if err != nil {
					return err
				}
				return reportMerge(cmd, adapter, mv, res, dir)
			})
		}),
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "merge commit message")
	return cmd
}

func reportMerge(cmd *cobra.Command, adapter scm.Adapter, mv version.ModuleVersion, res scm.MergeResult, dir string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n", mv, res)
	if res != scm.Conflicts {
		return nil
	}
	patches, err := adapter.PendingPatches(cmd.Context(), dir)
	if err != nil {
		return err
	}
	if len(patches) > 0 {
		fmt.Fprintf(out, "patches of the interrupted merge (.done applied, .current to resolve next):\n")
		for _, p := range patches {
			fmt.Fprintf(out, "  %s\n", p)
		}
	}
	return fmt.Errorf("%s: conflicts must be resolved in %s", mv, dir)
}
