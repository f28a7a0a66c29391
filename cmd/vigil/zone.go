package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cordonsec/vigil/pkg/config"
	"github.com/cordonsec/vigil/pkg/rpc"
)

var zoneCmd = &cobra.Command{
	Use:   "zone",
	Short: "Manage detection zones",
}

var zoneApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or update a zone from a YAML spec",
	Long: `Apply a detection zone from a YAML file.

The zone is created if its id is unknown and replaced otherwise. The
receiving node validates the spec and replicates it to every member.

Example spec:

  id: edge-zone
  nodes: [node-1, node-2, node-3]
  rules:
    - id: cpu-high
      type: cpu
      severity: high
      actions: [notify]
  alertPolicy:
    minConfidence: 0.8
    consensusThreshold: 0.67
    timeWindow: 60s`,
	RunE: runZoneApply,
}

var zoneListCmd = &cobra.Command{
	Use:   "list",
	Short: "List zones known to the node",
	RunE:  runZoneList,
}

var zoneGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one zone",
	Args:  cobra.ExactArgs(1),
	RunE:  runZoneGet,
}

var zoneDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a zone on all members",
	Args:  cobra.ExactArgs(1),
	RunE:  runZoneDelete,
}

func init() {
	zoneApplyCmd.Flags().StringP("file", "f", "", "Zone spec file (required)")
	_ = zoneApplyCmd.MarkFlagRequired("file")

	zoneCmd.AddCommand(zoneApplyCmd)
	zoneCmd.AddCommand(zoneListCmd)
	zoneCmd.AddCommand(zoneGetCmd)
	zoneCmd.AddCommand(zoneDeleteCmd)
	rootCmd.AddCommand(zoneCmd)
}

func runZoneApply(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	spec, err := config.LoadZoneSpec(path)
	if err != nil {
		return err
	}
	if spec.ID == "" {
		return fmt.Errorf("zone spec %s has no id", path)
	}

	msg := rpc.ToZoneMessage(spec.ToZone())
	client := newAPIClient(cmd)

	var saved rpc.ZoneMessage
	err = client.do("POST", "/v1/zones", msg, &saved)
	if conflict(err) {
		err = client.do("PUT", "/v1/zones/"+msg.ID, msg, &saved)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Zone %s applied (%d nodes, %d rules)\n",
		saved.ID, len(saved.Nodes), len(saved.Rules))
	return nil
}

func runZoneList(cmd *cobra.Command, args []string) error {
	var zones []rpc.ZoneMessage
	if err := newAPIClient(cmd).get("/v1/zones", &zones); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNODES\tRULES\tTHRESHOLD\tMIN CONFIDENCE")
	for _, z := range zones {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\t%.2f\n",
			z.ID, len(z.Nodes), len(z.Rules),
			z.AlertPolicy.ConsensusThreshold, z.AlertPolicy.MinConfidence)
	}
	return w.Flush()
}

func runZoneGet(cmd *cobra.Command, args []string) error {
	var z rpc.ZoneMessage
	if err := newAPIClient(cmd).get("/v1/zones/"+args[0], &z); err != nil {
		return err
	}

	fmt.Printf("Zone: %s\n", z.ID)
	fmt.Printf("Nodes: %s\n", strings.Join(z.Nodes, ", "))
	fmt.Printf("Policy: minConfidence=%.2f consensusThreshold=%.2f timeWindow=%dms\n",
		z.AlertPolicy.MinConfidence, z.AlertPolicy.ConsensusThreshold, z.AlertPolicy.TimeWindowMs)
	fmt.Println("Rules:")
	for _, r := range z.Rules {
		fmt.Printf("  %s: type=%s severity=%s actions=%s\n",
			r.ID, r.Type, r.Severity, strings.Join(r.Actions, ","))
	}
	return nil
}

func runZoneDelete(cmd *cobra.Command, args []string) error {
	if err := newAPIClient(cmd).do("DELETE", "/v1/zones/"+args[0], nil, nil); err != nil {
		return err
	}
	fmt.Printf("Zone %s deleted\n", args[0])
	return nil
}
