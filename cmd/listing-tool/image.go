package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/raine/vehicle-listing-bot/internal/media"
)

type imageStep func(n *media.Normalizer, ctx context.Context, f media.File) media.Outcome

type imageFlags struct {
	out       string
	converter string
	maxDim    int
	quality   int
	skipBelow int
}

func normalizeCommand() *cobra.Command {
	flags := &imageFlags{}
	cmd := &cobra.Command{
		Use:   "normalize <file>",
		Short: "Convert a photo to JPEG if needed and compress it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImageStep(cmd, args[0], flags, (*media.Normalizer).Normalize)
		},
	}
	setupImageFlags(cmd, flags)
	return cmd
}

func compressCommand() *cobra.Command {
	flags := &imageFlags{}
	cmd := &cobra.Command{
		Use:   "compress <file>",
		Short: "Downscale and re-encode a large photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImageStep(cmd, args[0], flags, (*media.Normalizer).Compress)
		},
	}
	setupImageFlags(cmd, flags)
	return cmd
}

func setupImageFlags(cmd *cobra.Command, flags *imageFlags) {
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "Output path (default: <name>-normalized.<ext> next to the input)")
	cmd.Flags().StringVar(&flags.converter, "heif-cmd", os.Getenv("HEIC_CONVERTER_CMD"), "External HEIF/HEIC converter command")
	cmd.Flags().IntVar(&flags.maxDim, "max-dimension", media.DefaultMaxDimension, "Longest edge after compression, in pixels")
	cmd.Flags().IntVar(&flags.quality, "quality", media.DefaultJPEGQuality, "JPEG quality")
	cmd.Flags().IntVar(&flags.skipBelow, "skip-below", media.DefaultSkipBelow, "Leave files smaller than this many bytes untouched")
}

func newNormalizer(flags *imageFlags) *media.Normalizer {
	converter := media.ChainConverter{media.DecodingConverter{}}
	if flags.converter != "" {
		converter = append(converter, media.NewHEIFConverter(flags.converter))
	}
	return media.NewNormalizer(converter, media.Options{
		MaxDimension: flags.maxDim,
		JPEGQuality:  flags.quality,
		SkipBelow:    flags.skipBelow,
	})
}

// runImageStep writes the step's result even when it reports an error,
// since an Outcome always carries a usable file.
func runImageStep(cmd *cobra.Command, path string, flags *imageFlags, step imageStep) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	in := media.File{Name: filepath.Base(path), Data: data}
	out := step(newNormalizer(flags), cmd.Context(), in)
	if out.Err != nil {
		log.Warn().Err(out.Err).Str("file", path).Msg("step failed, writing the original")
	}

	dest := flags.out
	if dest == "" {
		dest = outputPath(path, out.File)
	}
	if err := os.WriteFile(dest, out.File.Data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}

	status := "unchanged"
	if out.Changed {
		status = "changed"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %d -> %d bytes (%s)\n",
		dest, out.File.Format(), len(data), len(out.File.Data), status)
	return nil
}

// outputPath puts the result next to the input, with the extension of
// the result's format.
func outputPath(input string, f media.File) string {
	dir := filepath.Dir(input)
	name := media.ReplaceExtension(f.Name, f.Format())
	ext := filepath.Ext(name)
	return filepath.Join(dir, strings.TrimSuffix(name, ext)+"-normalized"+ext)
}
