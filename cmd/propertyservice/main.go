// Command propertyservice is the privileged writer process: it bootstraps
// the Property Info Area and per-context Property Areas from a set of
// property-context rule files, then serves the write protocol until
// signaled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	sysprops "github.com/sirgallo/sysprops"
	"github.com/sirgallo/sysprops/builder"
	"github.com/sirgallo/sysprops/wire"
)

func main() {
	var (
		propertiesDir  string
		defaultContext string
		defaultType    string
		contextFiles   []string
	)

	cmd := &cobra.Command{
		Use:   "propertyservice",
		Short: "run the system-property write service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(propertiesDir, defaultContext, defaultType, contextFiles)
		},
	}
	cmd.Flags().StringVar(&propertiesDir, "properties-dir", sysprops.PropertiesDir(), "backing-file directory")
	cmd.Flags().StringVar(&defaultContext, "default-context", "u:object_r:default_prop:s0", "fallback security context")
	cmd.Flags().StringVar(&defaultType, "default-type", "string", "fallback property type")
	cmd.Flags().StringSliceVar(&contextFiles, "context-file", nil, "property-context rule file (repeatable)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(dir, defaultContext, defaultType string, contextFiles []string) error {
	sys, err := builder.Bootstrap(dir, contextFiles, defaultContext, defaultType)
	if err != nil {
		return err
	}
	defer sys.Close()

	srv, err := wire.NewServer(sys, checkPermission)
	if err != nil {
		return err
	}
	defer srv.Close()

	go drainObservers(srv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

// checkPermission is a placeholder for the external policy hook: a
// production deployment replaces this with a real SELinux check against
// the resolved context and peer credentials; the library only guarantees
// the callback is invoked before a write is applied.
func checkPermission(name, value, context string, cred wire.Credentials) error {
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("rejected: embedded NUL in property name")
	}
	return nil
}

func drainObservers(srv *wire.Server) {
	for msg := range srv.Observers() {
		sysprops.Log().Infow("property changed", "name", msg.Key, "value", msg.Value)
	}
}
