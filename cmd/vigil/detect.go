package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cordonsec/vigil/pkg/admin"
)

var detectCmd = &cobra.Command{
	Use:   "detect SOURCE NAME=VALUE [NAME=VALUE...]",
	Short: "Submit measurements for detection",
	Long: `Feed one measurement set into the node's detection pipeline.

The node scores the values against its running profiles; an anomaly is
put to a zone-wide vote and the consensus outcome is reported.

Example:
  vigil detect cpu usage=97.5 load=12.3 --label host=db-1`,
	Args: cobra.MinimumNArgs(2),
	RunE: runDetect,
}

func init() {
	detectCmd.Flags().StringSlice("label", nil, "Measurement label (key=value), repeatable")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	req := admin.DetectRequest{
		Source: args[0],
		Values: make(map[string]float64),
	}
	for _, arg := range args[1:] {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return fmt.Errorf("measurement %q must be NAME=VALUE", arg)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("measurement %q: %w", arg, err)
		}
		req.Values[name] = v
	}

	labels, _ := cmd.Flags().GetStringSlice("label")
	for _, l := range labels {
		k, v, ok := strings.Cut(l, "=")
		if !ok || k == "" {
			return fmt.Errorf("label %q must be key=value", l)
		}
		if req.Labels == nil {
			req.Labels = make(map[string]string)
		}
		req.Labels[k] = v
	}

	var resp admin.DetectResponse
	if err := newAPIClient(cmd).do("POST", "/v1/detect", req, &resp); err != nil {
		return err
	}

	if !resp.Anomaly {
		fmt.Println("No anomaly detected")
		return nil
	}

	fmt.Printf("Anomaly: %s severity=%s confidence=%.2f\n",
		resp.Alert.ID, resp.Alert.Result.Severity, resp.Alert.Result.Confidence)
	if resp.Consensus == nil {
		fmt.Println("Consensus: not run (below zone confidence floor)")
		return nil
	}

	outcome := "timed out"
	if resp.Consensus.Reached {
		outcome = "failed"
		if resp.Consensus.Agreement {
			outcome = "reached"
		}
	}
	fmt.Printf("Consensus: %s (%d votes: %s)\n",
		outcome, len(resp.Consensus.Participants),
		strings.Join(resp.Consensus.Participants, ", "))
	return nil
}
