package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/cekresi/internal/courier"
)

func newInferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "infer NUMBER...",
		Short: "Show which courier a tracking number is attributed to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := courier.NewInferrer(courier.DefaultRules, courier.Default)
			for _, id := range args {
				code, rule := in.Explain(id)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", strings.TrimSpace(id), code, rule)
			}
			return nil
		},
	}
}
