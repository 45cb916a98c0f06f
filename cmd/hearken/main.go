// Command hearken is the transcription arbiter CLI.
//
// Usage:
//
//	hearken [flags] <command> [args]
//
// Commands:
//
//	transcribe - arbitrate one WAV clip, or watch an inbox directory
//	reviews    - list pending review items
//	correct    - resolve a review item with corrected text
//	skip       - resolve a review item as acceptable as-is
//	stats      - show learning and calibration statistics
//	train      - train the local fallback model
//
// Configuration lives in a YAML file (default hearken.yaml); secrets such
// as backend API keys come from the environment, with .env support.
package main

import (
	"fmt"
	"os"

	"github.com/hearkenlabs/hearken/cmd/hearken/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
