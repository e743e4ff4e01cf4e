// main.go - Einstiegspunkt der sensevoice CLI
package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lovemefan/sensevoice-go/cmd"
)

func main() {
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
