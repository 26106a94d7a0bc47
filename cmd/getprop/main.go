// Command getprop prints a property's value (or a caller-supplied
// default, or the empty string) and always exits 0, matching the
// historical getprop contract.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	sysprops "github.com/sirgallo/sysprops"
)

func main() {
	cmd := &cobra.Command{
		Use:   "getprop [name] [default]",
		Short: "print a system property's value",
		Args:  cobra.MaximumNArgs(2),
		RunE:  runGetprop,
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(0) // getprop never reports failure via exit code
	}
}

func runGetprop(cmd *cobra.Command, args []string) error {
	sys, err := sysprops.Open(sysprops.PropertiesDir())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Println()
		return nil
	}
	defer sys.Close()

	if len(args) == 0 {
		return nil
	}

	name := args[0]
	if len(args) == 2 {
		fmt.Println(sys.GetWithDefault(name, args[1]))
		return nil
	}
	fmt.Println(sys.Get(name))
	return nil
}
