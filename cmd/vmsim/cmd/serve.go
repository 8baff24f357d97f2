package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/vmsim/monitoring"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the state of a simulated system over HTTP",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.SilenceUsage = true

		cfg, err := loadConfig(cmd)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}

		c := cfg.builder().Build("MMU")

		port, _ := cmd.Flags().GetInt("port")
		m := monitoring.NewMonitor().WithPortNumber(port)
		m.RegisterMMU(c)

		withDemo, _ := cmd.Flags().GetBool("demo")
		if withDemo {
			if err := runDemo(cmd.OutOrStdout(), c); err != nil {
				log.Printf("Error: %v", err)
			}
		}

		url := m.StartServer()

		open, _ := cmd.Flags().GetBool("open")
		if open {
			if err := browser.OpenURL(url); err != nil {
				log.Printf("Error opening %s: %v", url, err)
			}
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		s := <-sig

		fmt.Fprintf(os.Stderr, "Received %s, shutting down\n", s)
		atexit.Exit(0)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0,
		"Port of the monitoring server. A random port is used if unset.")
	serveCmd.Flags().Bool("open", false, "Open the dashboard in a browser.")
	serveCmd.Flags().Bool("demo", false,
		"Run the demo scenario before serving.")
	rootCmd.AddCommand(serveCmd)
}
