package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var ConfigFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:   "nebula",
		Short: "Nebula multiplayer session server and related tools",
		Run:   ServeCommand,
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "", "Path to the directory containing config.yaml")

	connectCmd.Flags().StringVarP(&UsernameFlag, "username", "u", "", "Name to join the session with")
	connectCmd.Flags().BoolVarP(&WebsocketFlag, "websocket", "w", false, "Connect over a websocket instead of TCP")
	connectCmd.Flags().BoolVarP(&TraceFlag, "trace", "t", false, "Print every packet received from the server")

	analyzeCmd.Flags().IntVarP(&PortFlag, "port", "p", 8469, "Server port used to tell client packets from server packets")
	analyzeCmd.Flags().IntVar(&TruncateFlag, "truncate", 0, "Only dump the first N bytes of each frame")
	analyzeCmd.Flags().BoolVarP(&InterpretFlag, "interpret", "i", true, "Decode the packets in each frame")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(analyzeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
