package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	gobzlrel "github.com/albertocavalcante/go-bzlrel"
	"github.com/albertocavalcante/go-bzlrel/task"
	"github.com/albertocavalcante/go-bzlrel/version"
)

func newReferencesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "references MODULE[:VERSION]",
		Short: "List the references declared by a module version",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			mv, err := version.ParseModuleVersion(args[0])
			if err != nil {
				return err
			}
			refs, err := eng.References(cmd.Context(), mv)
			if err != nil {
				return err
			}
			for _, r := range refs {
				fmt.Fprintln(cmd.OutOrStdout(), r)
			}
			return nil
		}),
	}
}

func newGraphCmd(flags *globalFlags) *cobra.Command {
	var (
		format string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "graph MODULE:VERSION",
		Short: "Print the reference graph reachable from a module version",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			mv, err := version.ParseModuleVersion(args[0])
			if err != nil {
				return err
			}
			g, err := eng.Graph(cmd.Context(), mv, !all)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case "text":
				fmt.Fprint(out, g.ToText())
			case "dot":
				fmt.Fprint(out, g.ToDOT())
			case "json":
				data, err := g.ToJSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			default:
				return fmt.Errorf("unknown format %q: must be text, dot or json", format)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, dot, json)")
	cmd.Flags().BoolVar(&all, "all", false, "expand static versions too")
	return cmd
}

func newChangeReferencesCmd(flags *globalFlags) *cobra.Command {
	var (
		assignments     []string
		continueOnError bool
		reportPath      string
	)
	cmd := &cobra.Command{
		Use:   "change-references ROOT... --set MODULE=VERSION...",
		Short: "Pin the references reachable from the roots to the given versions",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			roots, err := parseModuleVersions(args)
			if err != nil {
				return err
			}
			mapping, err := parseMapping(assignments)
			if err != nil {
				return err
			}
			if len(mapping) == 0 {
				return errors.New("at least one --set assignment is required")
			}
			var opts []task.ChangeOption
			if continueOnError {
				opts = append(opts, task.WithContinueOnError())
			}
			report, err := eng.ChangeReferences(cmd.Context(), roots, mapping, opts...)
			if report != nil {
				fmt.Fprint(cmd.OutOrStdout(), report)
				if reportPath != "" {
					if werr := report.WriteFile(reportPath); werr != nil && err == nil {
						err = werr
					}
				}
			}
			if err == nil && len(report.Failures) > 0 {
				err = fmt.Errorf("%d module version(s) failed", len(report.Failures))
			}
			return err
		}),
	}
	cmd.Flags().StringArrayVar(&assignments, "set", nil, "version to reference for a module, e.g. Domain/lib=S/1.0")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "record failures and continue with the remaining modules")
	cmd.Flags().StringVar(&reportPath, "report", "", "write a JSON report to this file")
	return cmd
}

func newCreateStaticCmd(flags *globalFlags) *cobra.Command {
	var (
		target string
		prefix string
	)
	cmd := &cobra.Command{
		Use:   "create-static MODULE:D/NAME",
		Short: "Create a static version from the tip of a dynamic version",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			mv, err := version.ParseModuleVersion(args[0])
			if err != nil {
				return err
			}
			opts := task.StaticOptions{Prefix: prefix}
			if target != "" {
				if opts.Version, err = version.Parse(target); err != nil {
					return err
				}
			}
			res, err := eng.CreateStaticVersion(cmd.Context(), mv, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.NewModuleVersion(mv.NodePath, res.Static))
			return nil
		}),
	}
	cmd.Flags().StringVar(&target, "version", "", "static version to create, e.g. S/1.0.0")
	cmd.Flags().StringVar(&prefix, "prefix", "", "name the next revision prefix<n> when --version is not given")
	cmd.MarkFlagsOneRequired("version", "prefix")
	return cmd
}

func newNextVersionCmd(flags *globalFlags) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "next-version MODULE",
		Short: "Print the next free static version named prefix<n>",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			path, err := version.ParseNodePath(args[0])
			if err != nil {
				return err
			}
			v, err := eng.NewStaticVersion(cmd.Context(), path, prefix)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		}),
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "revision prefix")
	return cmd
}

func newEquivalentCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "equivalent MODULE:D/NAME",
		Short: "Print an existing static version equivalent to a dynamic version",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			mv, err := version.ParseModuleVersion(args[0])
			if err != nil {
				return err
			}
			v, err := eng.ExistingEquivalentStaticVersion(cmd.Context(), mv)
			if err != nil {
				return err
			}
			if v == nil {
				return fmt.Errorf("%s: no equivalent static version", mv)
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		}),
	}
}

func newSpecificVersionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "specific-version MODULE KEY",
		Short: "Print the version pinned for a module by configuration",
		Args:  cobra.ExactArgs(2),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			path, err := version.ParseNodePath(args[0])
			if err != nil {
				return err
			}
			v, err := eng.SpecificVersion(path, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		}),
	}
}

func newMapCmd(flags *globalFlags) *cobra.Command {
	var reverse bool
	cmd := &cobra.Command{
		Use:   "map MODULE VALUE",
		Short: "Map an artifact version to a version, or back with --reverse",
		Args:  cobra.ExactArgs(2),
		RunE: withEngine(flags, func(cmd *cobra.Command, eng *gobzlrel.Engine, args []string) error {
			path, err := version.ParseNodePath(args[0])
			if err != nil {
				return err
			}
			if reverse {
				v, err := version.Parse(args[1])
				if err != nil {
					return err
				}
				a, err := eng.ArtifactVersion(path, v)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), a)
				return nil
			}
			v, err := eng.MapArtifactVersion(path, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&reverse, "reverse", "r", false, "map a version to its artifact version")
	return cmd
}
