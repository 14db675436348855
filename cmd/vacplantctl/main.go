// vacplantctl is the operator's command-line tool for the vacuum agent: it
// prints the station register map and talks to a running agent over its HTTP
// API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/alarm"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plc"
)

var agentAddr string

func main() {
	root := &cobra.Command{
		Use:           "vacplantctl",
		Short:         "Operator tool for the vacuum plant control agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&agentAddr, "addr", "http://127.0.0.1:8090", "Base URL of the running vacuum agent.")

	root.AddCommand(newPointsCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newAlarmsCommand())
	root.AddCommand(newCommandCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vacplantctl: %v\n", err)
		os.Exit(1)
	}
}

func newPointsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "points",
		Short: "Print the station PLC register map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := plc.DefaultPointMap()

			table := uitable.New()
			table.AddRow("INDEX", "NAME", "KIND", "OPEN CMD", "CLOSE CMD", "OPEN FB", "CLOSE FB", "PERMIT")
			for _, v := range m.Valves() {
				kind := "motorized"
				closeCmd, closeFB := v.CloseCmd.String(), v.CloseFB.String()
				if v.Latched {
					kind = "latched"
					closeCmd, closeFB = "-", "-"
				}
				permit := "-"
				if v.Permit != nil {
					permit = v.Permit.String()
				}
				table.AddRow(v.Index, v.Name, kind, v.OpenCmd.String(), closeCmd, v.OpenFB.String(), closeFB, permit)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the live plant status of a running agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var status core.Status
			if err := getJSON("/v1/status", &status); err != nil {
				return err
			}

			table := uitable.New()
			table.AddRow("STATION", status.Station)
			table.AddRow("MODE", string(status.Mode))
			table.AddRow("STATE", string(status.State))
			table.AddRow("STEP", status.Step)
			table.AddRow("PLC LINK", linkWord(status.Plant.Connected))
			table.AddRow("FORELINE", fmt.Sprintf("%.3g Pa", status.Plant.ForelinePa))
			table.AddRow("PRIMARY A", fmt.Sprintf("%.3g Pa", status.Plant.PrimaryAPa))
			table.AddRow("PRIMARY B", fmt.Sprintf("%.3g Pa", status.Plant.PrimaryBPa))
			table.AddRow("AIR", fmt.Sprintf("%.2f MPa", status.Plant.AirPressureMPa))
			table.AddRow("SCREW", fmt.Sprintf("%.1f Hz", status.Plant.ScrewFrequencyHz))
			for i, rpm := range status.Plant.TurboSpeedRPM {
				table.AddRow(fmt.Sprintf("TURBO %d", i), fmt.Sprintf("%d rpm", rpm))
			}
			table.AddRow("ALARMS", status.Alarms.Active)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func newAlarmsCommand() *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "alarms",
		Short: "List active alarms (or the full history with --history)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/alarms"
			if history {
				path = "/v1/alarms/history"
			}
			var alarms []alarm.Alarm
			if err := getJSON(path, &alarms); err != nil {
				return err
			}

			table := uitable.New()
			table.MaxColWidth = 60
			table.AddRow("ID", "CODE", "TYPE", "DEVICE", "RAISED", "CLEARED", "ACK", "MESSAGE")
			for _, a := range alarms {
				cleared := "-"
				if a.ClearedAt != nil {
					cleared = a.ClearedAt.Format(time.RFC3339)
				}
				table.AddRow(a.ID, a.Code, a.Type, a.Device, a.RaisedAt.Format(time.RFC3339), cleared, a.Acknowledged, a.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "List the persisted alarm history instead of active alarms.")
	return cmd
}

func newCommandCommand() *cobra.Command {
	var args string
	cmd := &cobra.Command{
		Use:   "command NAME",
		Short: "Dispatch a control command to the agent",
		Long: `Dispatch a control command to the agent, e.g.

  vacplantctl command OneKeyVacuumStart
  vacplantctl command SetGateValve --args '{"index":0,"open":true}'

Run without a name to list the available commands.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			if len(posArgs) == 0 {
				var names []string
				if err := getJSON("/v1/commands", &names); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
				return nil
			}
			return postCommand(cmd.OutOrStdout(), posArgs[0], args)
		},
	}
	cmd.Flags().StringVar(&args, "args", "", "JSON argument object for the command.")
	return cmd
}

func linkWord(connected bool) string {
	if connected {
		return "up"
	}
	return "down"
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func getJSON(path string, out any) error {
	resp, err := httpClient().Get(agentAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postCommand(w io.Writer, name, args string) error {
	resp, err := httpClient().Post(agentAddr+"/v1/commands/"+name, "application/json", strings.NewReader(args))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result struct {
		Command string `json:"command"`
		OK      bool   `json:"ok"`
		Error   string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("POST %s: %s", name, resp.Status)
	}
	if !result.OK {
		return fmt.Errorf("%s rejected: %s", name, result.Error)
	}
	fmt.Fprintf(w, "%s accepted\n", name)
	return nil
}
