package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/appimage-tools/appimageupdate/internal/zsync"
)

var (
	makeBlocksize int
	makeURL       string
	makeOutput    string
)

func newMakeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "make <path>",
		Short: "Generate a zsync control file for a published AppImage",
		Long: `Generate the .zsync control file that delta-capable clients fetch to
determine which blocks of a new release they already have locally. Upload
it next to the AppImage it describes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMake(args[0])
		},
	}

	cmd.Flags().IntVar(&makeBlocksize, "blocksize", 2048, "Block size in bytes (power of two)")
	cmd.Flags().StringVar(&makeURL, "url", "", "URL of the data file written into the control file (default: the file name)")
	cmd.Flags().StringVarP(&makeOutput, "output-file", "f", "", "Where to write the control file (default: <path>.zsync)")

	return cmd
}

func runMake(path string) error {
	control, err := zsync.MakeControlFile(path, zsync.MakeOptions{
		Blocksize: makeBlocksize,
		URL:       makeURL,
	})
	if err != nil {
		return err
	}

	out := makeOutput
	if out == "" {
		out = path + ".zsync"
	}

	if err := os.WriteFile(out, control, 0o644); err != nil {
		return fmt.Errorf("writing control file: %w", err)
	}

	fmt.Printf("Wrote %s\n", out)
	return nil
}
