// Command setprop sends name=value to the property service over the
// write protocol and exits non-zero on any error.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sirgallo/sysprops/wire"
)

func main() {
	cmd := &cobra.Command{
		Use:   "setprop <name> <value>",
		Short: "set a system property's value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wire.Set(args[0], args[1])
		},
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
