package main

import (
	"go-chatlink-download/cmd/chatlink-downloader/cmd"
)

func main() {
	// Execute the root command (defined in cmd/root.go)
	cmd.Execute()
}
