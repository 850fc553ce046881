package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polisai/policyos/pkg/schema"
)

// newSchemasCmd creates the `policyos schemas` command.
func newSchemasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "List registered schema versions or print one schema document",
		Args:  cobra.NoArgs,
		RunE:  runSchemas,
	}
	cmd.Flags().String("version", "", "Print the schema document for this version")
	return cmd
}

func runSchemas(cmd *cobra.Command, _ []string) error {
	schemas, err := schema.NewRegistry()
	if err != nil {
		return err
	}

	version, _ := cmd.Flags().GetString("version")
	if version == "" {
		for _, v := range schemas.ListSchemas() {
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
		return nil
	}

	document, err := schemas.GetSchema(version)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(document))
	return nil
}
