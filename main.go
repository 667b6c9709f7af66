package main

import (
	"embed"
	"os"

	"stagetasks/internal/cli"
)

//go:embed templates/*
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

func main() {
	os.Exit(cli.Execute(cli.Assets{
		Templates: templatesFS,
		Static:    staticFS,
	}))
}
