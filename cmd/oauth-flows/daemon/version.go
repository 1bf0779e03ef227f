package daemon

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ubuntu/oauth-flows/internal/consts"
)

func (a *App) installVersion() {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Returns version of daemon and exits",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return a.getVersion() },
	}
	a.rootCmd.AddCommand(cmd)
}

// getVersion prints the current service version.
func (a *App) getVersion() (err error) {
	fmt.Printf("%s\t%s\n", a.name, consts.Version)
	return nil
}
