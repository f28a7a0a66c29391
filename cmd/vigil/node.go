package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cordonsec/vigil/pkg/admin"
	"github.com/cordonsec/vigil/pkg/rpc"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect cluster membership",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes in the cluster",
	RunE:  runNodeList,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the node's cluster status",
	RunE:  runStatus,
}

func init() {
	nodeCmd.AddCommand(nodeListCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(statusCmd)
}

func runNodeList(cmd *cobra.Command, args []string) error {
	var nodes []rpc.NodeInfo
	if err := newAPIClient(cmd).get("/v1/nodes", &nodes); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDRESS\tROLE\tSTATUS\tLAST HEARTBEAT")
	for _, n := range nodes {
		last := "never"
		if !n.LastHeartbeat.IsZero() {
			last = time.Since(n.LastHeartbeat).Round(time.Second).String() + " ago"
		}
		fmt.Fprintf(w, "%s\t%s:%d\t%s\t%s\t%s\n",
			n.ID, n.Host, n.Port, n.Role, n.Status, last)
	}
	return w.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	var st admin.StatusResponse
	if err := newAPIClient(cmd).get("/v1/status", &st); err != nil {
		return err
	}

	fmt.Printf("Node:    %s (%s, %s)\n", st.NodeID, st.Role, st.Status)
	fmt.Printf("Address: %s\n", st.Address)
	fmt.Printf("Uptime:  %s\n", st.Uptime)
	fmt.Printf("Nodes:   %d total, %d active, %d failed\n",
		st.Nodes.Total, st.Nodes.Active, st.Nodes.Failed)
	fmt.Printf("Zones:   %d\n", st.Zones)
	fmt.Printf("Rounds:  %d pending\n", st.PendingRounds)

	if len(st.FailedNodes) > 0 {
		fmt.Println("Recovering nodes:")
		for _, f := range st.FailedNodes {
			fmt.Printf("  %s (%s): %d attempts since %s\n",
				f.NodeID, f.Address, f.Attempts, f.Since.Format(time.RFC3339))
		}
	}
	if len(st.InconsistentZones) > 0 {
		fmt.Println("Inconsistent zones:")
		for _, z := range st.InconsistentZones {
			fmt.Printf("  %s: %s (%d attempts)\n", z.ZoneID, z.Reason, z.Attempts)
		}
	}
	return nil
}
