package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/client"
	"github.com/facegate/facegate/internal/config"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <name> <image>...",
	Short: "Enroll a person from image files",
	Long: `Enroll a person on a running server from one or more local images.
Each image is sent as an add_known_face request; the last successfully
processed image wins when several contain a usable face.

Example:
  facegate enroll "Jane Doe" photos/jane1.jpg photos/jane2.jpg`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("host", "", "Server host (overrides FACEGATE_HOST)")
	enrollCmd.Flags().Int("port", 0, "Server port (overrides FACEGATE_PORT)")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	name := args[0]
	images := args[1:]

	cfg := config.Load()
	logger := newLogger()

	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Client.Host = host
	}
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Client.Port = port
	}

	c := client.New(cfg.Client, logger, io.Discard)
	if err := c.Connect(); err != nil {
		return err
	}
	defer c.Disconnect()

	bar := progressbar.NewOptions(len(images),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	failed := 0
	for _, path := range images {
		if err := c.AddKnownFace(name, path); err != nil {
			failed++
			fmt.Printf("\n%s: %v\n", path, err)
		}
		_ = bar.Add(1)
	}
	// responses arrive asynchronously, give the last one a moment
	time.Sleep(200 * time.Millisecond)
	fmt.Println()

	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(images))
	}
	fmt.Printf("Done! Sent %d image(s) for '%s'\n", len(images), name)
	return nil
}
