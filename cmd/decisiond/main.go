// Command decisiond runs the decision platform: the API server, the
// one-shot bootstrap, and audit chain verification.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"decisiond/internal/logging"
)

func main() {
	args := logging.Init(os.Args[1:])

	root := &cobra.Command{
		Use:           "decisiond",
		Short:         "Policy-driven decision platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newBootstrapCmd(), newVerifyCmd())
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		os.Stderr.WriteString("decisiond: " + err.Error() + "\n")
		os.Exit(1)
	}
}
