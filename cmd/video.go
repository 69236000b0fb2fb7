package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/ridelog/internal/video"
)

var videoPolicy string

var videoCmd = &cobra.Command{
	Use:   "video [url]",
	Short: "Run the camera handshake and print state changes",
	Long: `Connect to a camera stream endpoint, synchronise clocks and wait for
the stream. The URL defaults to camera_url from the config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetConfig()
		url := c.CameraURL
		if len(args) == 1 {
			url = args[0]
		}
		if url == "" {
			return errors.New("no camera URL given and camera_url is not configured")
		}
		name := c.InvalidTransitions
		if videoPolicy != "" {
			name = videoPolicy
		}
		policy, err := video.ParsePolicy(name)
		if err != nil {
			return err
		}

		link, err := video.NewLink(url, video.LinkOptions{Policy: policy, Logger: logger})
		if err != nil {
			return err
		}
		m := link.Machine()
		m.AddListener(func(s video.State) {
			cmd.Printf("state: %s\n", s)
			if s == video.Synchronized {
				cmd.Printf("delay: %s\n", m.Delay())
			}
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return link.Run(ctx)
	},
}

func init() {
	videoCmd.Flags().StringVar(&videoPolicy, "policy", "", "invalid transition policy: ignore or reject (overrides config)")
	rootCmd.AddCommand(videoCmd)
}
