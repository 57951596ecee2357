package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "collector CONFIG_FILE",
		Short:         "Collect WSDL and OpenAPI service descriptions from X-Road members",
		Long:          "Collects a versioned catalogue of SOAP and REST services offered behind an X-Road security server, as configured by CONFIG_FILE.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollection(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(newVersionCmd())

	return cmd
}
