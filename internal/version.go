package internal

import "fmt"

var (
	version   = "0.3.0"
	gitCommit = "" // set via -ldflags at build time
	buildDate = ""
)

func Version() string {
	if gitCommit == "" {
		return version
	}
	return fmt.Sprintf("%s (%s %s)", version, gitCommit, buildDate)
}
