package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Missing .env is fine; the environment may already carry the secrets.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "imagesentry",
		Short: "Discord bot that classifies image attachments as AI or human made",
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and run the analysis pipeline",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
