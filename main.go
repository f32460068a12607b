package main

import (
	"os"

	"github.com/wan13323312/cloud-drive/cmd"
	"github.com/wan13323312/cloud-drive/internal"
)

var logger = internal.GetLogger("cloud-drive_main")

func main() {
	err := cmd.Main(os.Args)
	if err != nil {
		logger.Fatal(err)
	}
}
