package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
