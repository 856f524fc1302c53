package main

import (
	"fmt"
	"os"
	"time"

	"github.com/adwski/audiorooms/client/api"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:     "rooms",
	Aliases: []string{"r"},
	Short:   "Manage rooms",
}

var roomsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List rooms",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		rooms, err := api.NewClient(cfg.APIURL, nil).List(cmd.Context())
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"ID", "Name", "Members", "Created"})
		for _, r := range rooms {
			t.AppendRow(table.Row{r.ID, r.Name, r.Count, r.CreatedAt.Local().Format(time.DateTime)})
		}
		t.AppendFooter(table.Row{"", "", len(rooms), ""})
		t.Render()
		return nil
	},
}

var roomsCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a room",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		var name string
		if len(args) > 0 {
			name = args[0]
		}
		room, err := api.NewClient(cfg.APIURL, nil).Create(cmd.Context(), name)
		if err != nil {
			return err
		}
		fmt.Println(room.ID)
		return nil
	},
}

var roomsDeleteCmd = &cobra.Command{
	Use:     "delete <room-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a room, members are evicted",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		return api.NewClient(cfg.APIURL, nil).Delete(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
	roomsCmd.AddCommand(roomsListCmd, roomsCreateCmd, roomsDeleteCmd)
}
