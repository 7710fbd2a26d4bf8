package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-commerce/pkg/commerce"
)

func newIDLCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "idl",
		Short: "Print the program IDL as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := commerce.GenerateIDL().JSON()
			if err != nil {
				return err
			}
			data = append(data, '\n')
			if out != "" {
				return os.WriteFile(out, data, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	return cmd
}
