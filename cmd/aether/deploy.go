// Copyright 2025 AetherEngine
//
// Deploy command: package the project, emit the SBOM and manifest, sign
// the digest, and drive the upload protocol against the control plane.

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/aether-engine/aether/pkg/cli"
	"github.com/aether-engine/aether/pkg/client"
	"github.com/aether-engine/aether/pkg/packager"
	"github.com/aether-engine/aether/pkg/signing"
)

type deployFlags struct {
	dryRun           bool
	packOnly         bool
	compressionLevel int
	out              string
	noUpload         bool
	noCache          bool
	noSBOM           bool
	cycloneDX        bool
	format           string
	useLegacyUpload  bool
	devHot           bool
	path             string
}

type deploySummary struct {
	App            string `json:"app"`
	Digest         string `json:"digest"`
	Artifact       string `json:"artifact"`
	SizeBytes      int64  `json:"size_bytes"`
	Files          int    `json:"files"`
	ManifestDigest string `json:"manifest_digest"`
	SBOM           string `json:"sbom,omitempty"`
	Uploaded       bool   `json:"uploaded"`
	Duplicate      bool   `json:"duplicate"`
	Verified       bool   `json:"verified"`
	DeploymentID   string `json:"deployment_id,omitempty"`
}

func newDeployCmd() *cobra.Command {
	flags := deployFlags{}
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Package and deploy the current application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd.Context(), &flags)
		},
	}
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "report what would be packaged without writing anything")
	cmd.Flags().BoolVar(&flags.packOnly, "pack-only", false, "package without uploading")
	cmd.Flags().IntVar(&flags.compressionLevel, "compression-level", 6, "gzip compression level (1-9)")
	cmd.Flags().StringVar(&flags.out, "out", "", "archive output path (directory or file)")
	cmd.Flags().BoolVar(&flags.noUpload, "no-upload", false, "skip the upload even when an API base is configured")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "ignore the local build cache")
	cmd.Flags().BoolVar(&flags.noSBOM, "no-sbom", false, "skip SBOM generation")
	cmd.Flags().BoolVar(&flags.cycloneDX, "cyclonedx", false, "emit a CycloneDX SBOM instead of the legacy format")
	cmd.Flags().StringVar(&flags.format, "format", "text", "output format: text|json")
	cmd.Flags().BoolVar(&flags.useLegacyUpload, "use-legacy-upload", false, "use the deprecated single-shot upload endpoint")
	cmd.Flags().BoolVar(&flags.devHot, "dev-hot", false, "deploy in dev-hot mode (fast iteration)")
	cmd.Flags().StringVar(&flags.path, "path", ".", "project root to package")
	return cmd
}

func runDeploy(ctx context.Context, flags *deployFlags) error {
	if flags.compressionLevel < 1 || flags.compressionLevel > 9 {
		return cli.NewError(cli.KindUsage, "compression-level must be between 1 and 9")
	}
	if flags.format != "text" && flags.format != "json" {
		return cli.NewError(cli.KindUsage, "format must be text or json")
	}

	cfg, err := cli.LoadConfig()
	if err != nil {
		return err
	}

	root, err := filepath.Abs(flags.path)
	if err != nil {
		return cli.WrapError(cli.KindIO, "invalid project path", err)
	}

	if flags.dryRun {
		files, err := packager.DiscoverFiles(root)
		if err != nil {
			return cli.WrapError(cli.KindIO, "project walk failed", err)
		}
		fmt.Printf("Would package %d files from %s\n", len(files), root)
		return nil
	}

	result, err := packager.Pack(root, packager.Options{
		CompressionLevel: flags.compressionLevel,
		OutPath:          flags.out,
	})
	if err != nil {
		return cli.WrapError(cli.KindIO, "packaging failed", err)
	}

	summary := deploySummary{
		App:            filepath.Base(root),
		Digest:         result.Digest,
		Artifact:       result.ArchivePath,
		SizeBytes:      result.SizeBytes,
		Files:          result.FileCount,
		ManifestDigest: result.ManifestDigest,
	}
	if app := os.Getenv("AETHER_DEFAULT_APP"); app != "" {
		summary.App = app
	} else if cfg.DefaultApp != "" {
		summary.App = cfg.DefaultApp
	}

	// SBOM generation
	var sbomDoc []byte
	if !flags.noSBOM {
		if flags.cycloneDX {
			sbomDoc, err = packager.GenerateCycloneDX(root, result.Digest, result.ManifestDigest)
			summary.SBOM = "cyclonedx"
		} else {
			sbomDoc, err = packager.GenerateLegacySBOM(root, result.Digest, result.ManifestDigest)
			summary.SBOM = "aether-sbom-v1"
		}
		if err != nil {
			return cli.WrapError(cli.KindRuntime, "sbom generation failed", err)
		}
	}

	// Optional artifact signing with an app-scoped key
	var signature *string
	if seedHex := os.Getenv("AETHER_SIGNING_KEY"); seedHex != "" {
		seed, err := hex.DecodeString(seedHex)
		if err != nil {
			return cli.NewError(cli.KindConfig, "AETHER_SIGNING_KEY must be hex")
		}
		sig, err := signing.SignDigest(seed, result.Digest)
		if err != nil {
			return cli.WrapError(cli.KindConfig, "artifact signing failed", err)
		}
		signature = &sig
	}

	upload := !flags.packOnly && !flags.noUpload && cfg.APIBase != ""
	if upload {
		session, err := cli.LoadSession()
		if err != nil {
			return err
		}
		token := ""
		if session != nil {
			token = session.Token
		}
		api := client.New(cfg.APIBase, token)
		api.Logger = cliLogger

		if flags.useLegacyUpload {
			resp, err := api.LegacyUpload(ctx, summary.App, result.Digest, result.ArchivePath, signature)
			if err != nil {
				return err
			}
			summary.Uploaded = true
			summary.Duplicate = resp.Duplicate
			summary.Verified = resp.Verified
			if depID, err := api.CreateDeployment(ctx, summary.App, resp.ArtifactURL); err == nil {
				summary.DeploymentID = depID
			}
		} else {
			resp, err := api.UploadArtifact(ctx, summary.App, result.Digest, result.ArchivePath,
				result.SizeBytes, signature, uploadProgress(flags))
			if err != nil {
				return err
			}
			summary.Uploaded = true
			summary.Duplicate = resp.Duplicate
			summary.Verified = resp.Verified

			manifestDoc, err := json.Marshal(result.Manifest)
			if err != nil {
				return cli.WrapError(cli.KindRuntime, "manifest encoding failed", err)
			}
			if err := api.UploadManifest(ctx, result.Digest, manifestDoc); err != nil {
				return err
			}
			if sbomDoc != nil {
				if err := api.UploadSBOM(ctx, result.Digest, sbomDoc); err != nil {
					return err
				}
			}
			if depID, err := api.CreateDeployment(ctx, summary.App, resp.StorageKey); err == nil {
				summary.DeploymentID = depID
			}
		}
	}

	return printSummary(&summary, flags.format)
}

// uploadProgress returns a progress-bar reader wrapper on TTYs
func uploadProgress(flags *deployFlags) func(io.Reader, int64) io.Reader {
	if !stdoutIsTTY() || flags.format == "json" {
		return nil
	}
	return func(r io.Reader, size int64) io.Reader {
		bar := progressbar.DefaultBytes(size, "uploading")
		return io.TeeReader(r, bar)
	}
}

func printSummary(s *deploySummary, format string) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s %s\n", green("packaged"), s.Artifact)
	fmt.Printf("  app:             %s\n", s.App)
	fmt.Printf("  digest:          %s\n", s.Digest)
	fmt.Printf("  size:            %d bytes (%d files)\n", s.SizeBytes, s.Files)
	fmt.Printf("  manifest digest: %s\n", s.ManifestDigest)
	if s.SBOM != "" {
		fmt.Printf("  sbom:            %s\n", s.SBOM)
	}
	if s.Uploaded {
		state := "stored"
		if s.Duplicate {
			state = "duplicate (already stored)"
		}
		fmt.Printf("  upload:          %s\n", green(state))
		if s.DeploymentID != "" {
			fmt.Printf("  deployment:      %s\n", s.DeploymentID)
		}
	}
	return nil
}
