package main

import (
	"github.com/joho/godotenv"

	"pairwatch/internal/cli"
)

func main() {
	// .env is optional; real deployments inject env vars directly.
	_ = godotenv.Load()

	cli.Execute()
}
