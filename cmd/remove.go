package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chaos-io/bgremover/rembg"
	"github.com/chaos-io/bgremover/util"
)

type removeOptions struct {
	Input     string
	OutputDir string
	Output    string
	rembg.Options
}

var removeOpts = removeOptions{Options: rembg.DefaultOptions()}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the background of a local image or URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemove(cmd, removeOpts)
	},
}

func init() {
	f := removeCmd.Flags()
	f.StringVarP(&removeOpts.Input, "input", "i", "", "image path or http(s) URL")
	f.StringVarP(&removeOpts.OutputDir, "output-dir", "d", ".", "directory for the generated PNG")
	f.StringVarP(&removeOpts.Output, "output", "o", "", "output file (default: <output-dir>/bg_removed_<name>.png)")
	f.BoolVar(&removeOpts.AlphaMatting, "alpha-matting", removeOpts.AlphaMatting, "refine foreground edges")
	f.IntVar(&removeOpts.ForegroundThreshold, "fg", removeOpts.ForegroundThreshold, "alpha matting foreground threshold (0-255)")
	f.IntVar(&removeOpts.BackgroundThreshold, "bg", removeOpts.BackgroundThreshold, "alpha matting background threshold (0-255)")
	f.IntVar(&removeOpts.ErodeSize, "erode", removeOpts.ErodeSize, "alpha matting erode size (0-30)")

	_ = removeCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, opts removeOptions) error {
	ctx := log.Logger.WithContext(cmd.Context())

	if opts.Input == "" {
		return errors.New("input is required")
	}
	if err := opts.Options.Validate(); err != nil {
		return err
	}

	img, name, err := loadInput(ctx, opts.Input)
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}
	img = util.ResizeWithinMax(img, cfg.MaxInputSize)

	sessions, err := newSessions(cfg.Backend)
	if err != nil {
		return err
	}
	remover, err := sessions.Get(ctx, cfg.Backend.ModelName())
	if err != nil {
		return err
	}

	done := util.Trace(&log.Logger, "remove background")
	out, err := remover.Remove(ctx, img, opts.Options)
	done()
	if err != nil {
		return err
	}

	output, err := outputPath(opts, name)
	if err != nil {
		return err
	}
	if err := util.SavePNG(output, out); err != nil {
		return fmt.Errorf("save %s: %w", output, err)
	}

	log.Info().Str("output", output).Msg("done")
	return nil
}

func isURL(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

// loadInput 读取本地文件或下载 URL，返回图片和原始文件名
func loadInput(ctx context.Context, input string) (image.Image, string, error) {
	if isURL(input) {
		return util.DownloadImage(ctx, input)
	}
	img, err := util.OpenImage(input)
	return img, filepath.Base(input), err
}

// outputPath -o 优先，否则写到 <output-dir>/bg_removed_<name>.png
func outputPath(opts removeOptions, name string) (string, error) {
	if opts.Output != "" {
		return opts.Output, nil
	}
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}
	return filepath.Join(dir, util.OutputFileName(name)), nil
}
