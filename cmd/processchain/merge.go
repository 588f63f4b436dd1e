package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/edrsec/processchain/internal/audit"
	"github.com/edrsec/processchain/internal/chain"
	"github.com/edrsec/processchain/internal/config"
	"github.com/edrsec/processchain/internal/history"
	"github.com/edrsec/processchain/internal/models"
	"github.com/spf13/cobra"
)

var (
	mergeAssociations []string
	mergeNetworkFile   string
	mergeFocusIP       string
	mergeFocusObject   string
	mergeOutput        string
)

var mergeCmd = &cobra.Command{
	Use:   "merge [host-ip...]",
	Short: "Reconstruct process chains and merge them with a network-side graph",
	Long: `merge runs the same reconstruction as generate, then merges the
result with a network-side attacker/victim graph read from --network-file,
bridging endpoint roots to the victim nodes they correspond to.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().StringSliceVar(&mergeAssociations, "associated-event", nil,
		"host=eventID pairs giving the network-side associated event id for a host")
	mergeCmd.Flags().StringVar(&mergeNetworkFile, "network-file", "", "path to a JSON file with networkNodes/networkEdges")
	mergeCmd.Flags().StringVar(&mergeFocusIP, "focus-ip", "", "IP whose network role should be corrected before merging")
	mergeCmd.Flags().StringVar(&mergeFocusObject, "focus-object", "", "corrected role for --focus-ip: attacker or victim")
	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "", "write result JSON to this file instead of stdout")
}

type networkGraphFile struct {
	NetworkNodes []models.NetworkNode `json:"networkNodes"`
	NetworkEdges []models.NetworkEdge `json:"networkEdges"`
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if result := cfg.Validate(config.ValidationContextMerge); result.HasErrors() {
		return fmt.Errorf("%s", result.Error())
	}

	ipAndAssociation, err := buildIPMapping(args, mergeAssociations)
	if err != nil {
		return err
	}

	var graph networkGraphFile
	if mergeNetworkFile != "" {
		b, err := os.ReadFile(mergeNetworkFile)
		if err != nil {
			return fmt.Errorf("failed to read --network-file: %w", err)
		}
		if err := json.Unmarshal(b, &graph); err != nil {
			return fmt.Errorf("failed to parse --network-file: %w", err)
		}
	}

	facade, err := newFacade()
	if err != nil {
		return fmt.Errorf("failed to build query facade: %w", err)
	}

	orchestrator := chain.NewOrchestrator(facade, logger, chainLimits())
	result, err := orchestrator.Build(ctx, ipAndAssociation)
	if err != nil {
		return fmt.Errorf("merge-chain failed: %w", err)
	}

	networkNodes := graph.NetworkNodes
	if mergeFocusIP != "" {
		rc := chain.NewRoleCorrector()
		rc.Correct(networkNodes, graph.NetworkEdges, mergeFocusIP, mergeFocusObject)
	}

	merger := chain.NewMerger(logger)
	merged, degraded := merger.Merge(result.Chain, networkNodes, graph.NetworkEdges, result.HostToTraceID, result.TraceIDToRootNodeMap)

	recordCLIInvestigation(ctx, history.OperationMergeChain, ipAndAssociation, result, degraded)

	if cfg.Audit.Enabled {
		if auditClient, err := audit.NewClient(ctx, cfg.Audit.PostgresDSN); err != nil {
			logger.WithError(err).Warn("audit client unavailable, skipping merge audit event")
		} else {
			traceID := ""
			if len(result.Chain.TraceIDs) > 0 {
				traceID = result.Chain.TraceIDs[0]
			}
			if err := auditClient.RecordMerge(ctx, traceID, degraded); err != nil {
				logger.WithError(err).Warn("failed to record merge audit event")
			}
			auditClient.Close()
		}
	}

	return writeResult(merged, mergeOutput)
}
