package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ovalle/stateflow/internal/cli"
)

func main() {
	// A missing .env file is fine; environment variables still apply.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
