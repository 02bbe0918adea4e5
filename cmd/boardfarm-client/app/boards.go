package app

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/autopeer-io/boardfarm/internal/core/model"
	"github.com/autopeer-io/boardfarm/internal/dispatcher"
)

func newBoardsCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "boards",
		Short: "List the board pools declared in a server config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			farm, err := loadFarm(configFile)
			if err != nil {
				return err
			}
			renderBoards(cmd.OutOrStdout(), farm)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "boardfarm.yaml", "Server config file.")
	return cmd
}

func loadFarm(path string) (*dispatcher.FarmOptions, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	farm := dispatcher.NewFarmOptions()
	if err := v.UnmarshalKey("farm", farm); err != nil {
		return nil, fmt.Errorf("decode farm: %w", err)
	}
	return farm, nil
}

// renderBoards prints one row per board. Slots are numbered per pool in
// declaration order, the way the server assigns them.
func renderBoards(w io.Writer, farm *dispatcher.FarmOptions) {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("POOL", "SLOT", "NAME", "HANDLER", "SWITCH", "PORT")

	slots := map[model.PoolKey]int{}
	for i := range farm.Boards {
		b := &farm.Boards[i]
		key := b.PoolKey()
		table.AddRow(key.String(), strconv.Itoa(slots[key]), b.Name, b.Handler, b.Switch, strconv.Itoa(b.PowerPort))
		slots[key]++
	}
	fmt.Fprintln(w, table)
}
