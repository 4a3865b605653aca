package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/bitstrat/internal/ops"
)

// OperationInfo describes one operation in the ops listing.
type OperationInfo struct {
	Name           string   `json:"name"`
	Category       string   `json:"category"`
	Cost           float64  `json:"cost"`
	LengthChanging bool     `json:"length_changing"`
	Params         []string `json:"params"`
	Description    string   `json:"description"`
}

// NewOpsCommand creates the ops command.
func NewOpsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List available operations and their costs",
		Long: `List the operations scripts can propose, with the costs that runs
will charge. Costs include any operation_costs overrides from the config.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOps(rootOpts, cmd)
		},
	}
	return cmd
}

func runOps(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	rt, err := opts.runtime(cmd)
	if err != nil {
		return err
	}

	infos := operationInfos(rt.router)
	if formatter.JSON() {
		return formatter.Success(infos)
	}

	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, []string{
			info.Name,
			info.Category,
			fmt.Sprintf("%g", info.Cost),
			strings.Join(info.Params, ","),
			info.Description,
		})
	}
	return formatter.Table([]string{"OPERATION", "CATEGORY", "COST", "PARAMS", "DESCRIPTION"}, rows)
}

func operationInfos(lib *ops.Library) []OperationInfo {
	defs := lib.Definitions()
	infos := make([]OperationInfo, 0, len(defs))
	for _, d := range defs {
		params := d.Params
		if params == nil {
			params = []string{}
		}
		infos = append(infos, OperationInfo{
			Name:           d.Name,
			Category:       string(d.Category),
			Cost:           d.Cost,
			LengthChanging: d.LengthChanging(),
			Params:         params,
			Description:    d.Description,
		})
	}
	return infos
}
