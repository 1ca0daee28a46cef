package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Conversational gateway between chat platforms and the AI backend",
	}
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Run: func(_ *cobra.Command, _ []string) {
			runServe()
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Remove sessions idle beyond the retention window",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runCleanup()
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
