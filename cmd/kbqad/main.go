package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/kbqa/internal/cli"
	"github.com/cloo-solutions/kbqa/internal/cli/admin"
)

func main() {
	root := &cobra.Command{
		Use:     "kbqad",
		Short:   "kbqa server and admin tool",
		Long:    "kbqad serves the question answering API, ingests documents into the chunk store and applies database migrations. Run without a subcommand it serves.",
		Version: admin.Version,
	}
	cli.AddHelpJSONFlag(root)
	root.AddCommand(admin.ServeCmd(), admin.IngestCmd(), admin.MigrateCmd())

	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"serve"}
	}
	root.SetArgs(args)

	handled, err := cli.HandleHelpJSON(root, args, os.Stdout)
	if !handled {
		err = root.Execute()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
