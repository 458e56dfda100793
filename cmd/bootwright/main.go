package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bootwright/bootwright/internal/config"
	"github.com/bootwright/bootwright/internal/sysroot"
	"github.com/bootwright/bootwright/internal/sysroot/bootloader"
	"github.com/bootwright/bootwright/internal/sysroot/deployment"
	"github.com/bootwright/bootwright/pkg/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	cfg        *config.Config
	log        *log.PrefixLogger
}

func (o *options) sysroot() *sysroot.Sysroot {
	var opts []sysroot.Option
	if o.cfg.Bootloader != "" {
		opts = append(opts, sysroot.WithBootloader(bootloader.Kind(o.cfg.Bootloader)))
	}
	return sysroot.New(o.cfg.Sysroot, o.log, opts...)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "bootwright",
		Short:        "Manage bootable deployments on an ostree-style sysroot",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.log = log.NewPrefixLogger("")
			opts.log.SetLevel(cfg.LogLevel)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "path to the configuration file")

	cmd.AddCommand(
		newStatusCmd(opts),
		newRollbackCmd(opts),
		newUndeployCmd(opts),
		newCleanupCmd(opts),
		newGrub2GenerateCmd(opts),
	)
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the deployments in boot menu order",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.sysroot()
			if err := s.Load(cmd.Context()); err != nil {
				return err
			}

			booted := s.BootedDeployment()
			for _, d := range s.Deployments() {
				marker := " "
				if booted != nil && d.Equal(booted) {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s\n", marker, d.Index(), d)
				if origin := d.Origin(); origin != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "    origin refspec: %s\n", origin.Refspec())
					if origin.Pinned() {
						fmt.Fprintln(cmd.OutOrStdout(), "    pinned: yes")
					}
					if u := origin.Unlocked(); u != deployment.UnlockedNone {
						fmt.Fprintf(cmd.OutOrStdout(), "    unlocked: %s\n", u)
					}
				}
			}
			return nil
		},
	}
}

func newRollbackCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Make the second deployment the default for the next boot",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.sysroot()
			if err := s.TryLock(); err != nil {
				return err
			}
			defer s.Unlock()

			if err := s.Load(cmd.Context()); err != nil {
				return err
			}
			deployments := s.Deployments()
			if len(deployments) < 2 {
				return fmt.Errorf("rollback requires at least two deployments, found %d", len(deployments))
			}

			rotated := append([]*deployment.Deployment{deployments[1], deployments[0]}, deployments[2:]...)
			return s.WriteDeployments(cmd.Context(), rotated)
		},
	}
}

func newUndeployCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "undeploy INDEX",
		Short: "Remove the deployment at the given menu index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index %q: %w", args[0], err)
			}

			s := opts.sysroot()
			if err := s.TryLock(); err != nil {
				return err
			}
			defer s.Unlock()

			if err := s.Load(cmd.Context()); err != nil {
				return err
			}
			deployments := s.Deployments()
			if index < 0 || index >= len(deployments) {
				return fmt.Errorf("index %d out of range (%d deployments)", index, len(deployments))
			}

			remaining := append(deployments[:index:index], deployments[index+1:]...)
			return s.WriteDeployments(cmd.Context(), remaining)
		},
	}
}

func newCleanupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Garbage-collect stale deployments, kernels and boot directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.sysroot()
			if err := s.TryLock(); err != nil {
				return err
			}
			defer s.Unlock()

			if err := s.Load(cmd.Context()); err != nil {
				return err
			}
			return s.Cleanup(cmd.Context())
		},
	}
}

// newGrub2GenerateCmd backs the grub2-mkconfig integration: the ostree
// snippet invokes it to render menuentry stanzas on stdout.
func newGrub2GenerateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:    "grub2-generate",
		Short:  "Emit grub2 menu entries for the current deployments",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.sysroot()
			if err := s.Load(cmd.Context()); err != nil {
				return err
			}
			isEFI := os.Getenv("_OSTREE_GRUB2_IS_EFI") == "1"
			return bootloader.WriteMenuEntries(cmd.OutOrStdout(), s.Deployments(), isEFI)
		},
	}
}
