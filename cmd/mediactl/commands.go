package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mkrupp/mediavault/internal/app"
	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/svc/gcsvc"
	"github.com/mkrupp/mediavault/internal/svc/mediasvc"
	"github.com/mkrupp/mediavault/internal/svc/verifysvc"
)

var errRunFailed = errors.New("run failed")

// withServices opens the engine for the duration of one command.
func withServices(
	cfg app.Config,
	fn func(ctx context.Context, svc *app.Services, args []string) error,
) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		services, err := app.Open(cmd.Context(), cfg, nil)
		if err != nil {
			return fmt.Errorf("open services: %w", err)
		}
		defer services.Close()

		return fn(cmd.Context(), services, args)
	}
}

func newRootCommand(cfg app.Config) *cobra.Command {
	root := &cobra.Command{ //nolint:exhaustruct
		Use:          "mediactl",
		Short:        "Manage the media store",
		SilenceUsage: true,
	}

	root.AddCommand(
		newUploadCommand(cfg),
		newThumbCommand(cfg),
		newGCCommand(cfg),
		newVerifyCommand(cfg),
		newSignCommand(cfg),
		newQuarantineCommand(cfg),
	)

	return root
}

func newUploadCommand(cfg app.Config) *cobra.Command {
	return &cobra.Command{ //nolint:exhaustruct
		Use:   "upload <file>",
		Short: "Store a file",
		Args:  cobra.ExactArgs(1),
		RunE: withServices(cfg, func(ctx context.Context, svc *app.Services, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			defer file.Close()

			result, err := svc.Media.Upload(ctx, mediasvc.UploadRequest{
				Body:     file,
				Filename: filepath.Base(args[0]),
			})
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}

			verb := "stored"
			if result.WasDeduplicated {
				verb = "deduplicated"
			}

			fmt.Printf("%s %s %s (%s, %s)\n", verb, result.File.UUID, result.File.DiskPath,
				result.File.MIMEType, humanize.Bytes(uint64(result.File.SizeBytes))) //nolint:gosec

			return nil
		}),
	}
}

func newThumbCommand(cfg app.Config) *cobra.Command {
	var output string

	cmd := &cobra.Command{ //nolint:exhaustruct
		Use:   "thumb <uuid> <variant>",
		Short: "Resolve a thumbnail variant",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE: withServices(cfg, func(ctx context.Context, svc *app.Services, args []string) error {
			thumb, err := svc.Thumbs.ResolveThumb(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("resolve thumb: %w", err)
			}

			if !thumb.Generatable() {
				fmt.Printf("not generatable: %s\n", thumb.Reason)

				return nil
			}

			if output != "" {
				if err := os.WriteFile(output, thumb.Body, 0o644); err != nil { //nolint:gosec
					return fmt.Errorf("write: %w", err)
				}
			}

			fmt.Printf("%s %s (%s, cached=%t)\n", thumb.Path, thumb.MIMEType,
				humanize.Bytes(uint64(len(thumb.Body))), thumb.CacheHit)

			return nil
		}),
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the thumbnail to this file")

	return cmd
}

func newGCCommand(cfg app.Config) *cobra.Command {
	var (
		mode   string
		dryRun bool
		opts   gcsvc.RunOptions
	)

	cmd := &cobra.Command{ //nolint:exhaustruct
		Use:   "gc",
		Short: "Collect orphaned or expired objects",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = withServices(cfg, func(ctx context.Context, svc *app.Services, _ []string) error {
		opts.Mode = domain.GCMode(mode)

		if cmd.Flags().Changed("dry-run") {
			opts.DryRun = &dryRun
		}

		result := svc.GC.Run(ctx, opts)

		fmt.Println(gcsvc.Summary(result))

		for _, path := range result.Paths {
			fmt.Println("  " + path)
		}

		if !result.OK {
			return fmt.Errorf("%w: %s", errRunFailed, result.Error)
		}

		return nil
	})

	cmd.Flags().StringVar(&mode, "mode", string(domain.GCModeOrphan), "orphan or retention")
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "report without deleting (default from GC_DRY_RUN_DEFAULT)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum deletions, capped by GC_MAX_DELETE_PER_RUN")
	cmd.Flags().StringVar(&opts.ScanPrefix, "prefix", "", "restrict the orphan scan to a path prefix")
	cmd.Flags().StringVar(&opts.Disk, "disk", "", "storage disk (default disk if empty)")

	return cmd
}

func newVerifyCommand(cfg app.Config) *cobra.Command {
	var opts verifysvc.VerifyOptions

	cmd := &cobra.Command{ //nolint:exhaustruct
		Use:   "verify",
		Short: "Check stored objects against their records",
		Args:  cobra.NoArgs,
		RunE: withServices(cfg, func(ctx context.Context, svc *app.Services, _ []string) error {
			result, err := svc.Verify.Verify(ctx, opts)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}

			fmt.Printf("checked %d: %d ok, %d missing, %d mismatched, %d errors\n",
				result.Checked, result.OKCount, result.MissingCount, result.MismatchCount, result.ErrorCount)

			for _, uuid := range result.Missing {
				fmt.Println("  missing " + uuid)
			}

			for _, uuid := range result.Mismatched {
				fmt.Println("  mismatch " + uuid)
			}

			if !result.OK {
				return errRunFailed
			}

			return nil
		}),
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "number of records to check (default VERIFY_DEFAULT_LIMIT)")

	return cmd
}

func newSignCommand(cfg app.Config) *cobra.Command {
	return &cobra.Command{ //nolint:exhaustruct
		Use:   "sign <uuid>",
		Short: "Issue a signed URL token",
		Args:  cobra.ExactArgs(1),
		RunE: withServices(cfg, func(ctx context.Context, svc *app.Services, args []string) error {
			file, err := svc.Media.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get media: %w", err)
			}

			signed, err := svc.Signer.Issue(ctx, file.UUID)
			if err != nil {
				return fmt.Errorf("issue: %w", err)
			}

			fmt.Printf("/media/%s?sig=%s (expires %s)\n", file.UUID, signed.Token, humanize.Time(signed.ExpiresAt))

			return nil
		}),
	}
}

func newQuarantineCommand(cfg app.Config) *cobra.Command {
	var release bool

	cmd := &cobra.Command{ //nolint:exhaustruct
		Use:   "quarantine <uuid>",
		Short: "Move media out of (or with --release back into) the serving namespace",
		Args:  cobra.ExactArgs(1),
		RunE: withServices(cfg, func(ctx context.Context, svc *app.Services, args []string) error {
			move := svc.Media.Quarantine
			if release {
				move = svc.Media.Release
			}

			file, err := move(ctx, args[0])
			if err != nil {
				return fmt.Errorf("move: %w", err)
			}

			fmt.Printf("%s %s %s\n", file.UUID, file.Status, file.StoragePath())

			return nil
		}),
	}

	cmd.Flags().BoolVar(&release, "release", false, "restore quarantined media")

	return cmd
}
