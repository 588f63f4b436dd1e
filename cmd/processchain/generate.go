package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/edrsec/processchain/internal/audit"
	"github.com/edrsec/processchain/internal/cache"
	"github.com/edrsec/processchain/internal/chain"
	"github.com/edrsec/processchain/internal/config"
	"github.com/edrsec/processchain/internal/history"
	"github.com/edrsec/processchain/internal/index"
	"github.com/edrsec/processchain/internal/models"
	"github.com/spf13/cobra"
)

var (
	generateAssociations []string
	generateOutput       string
)

var generateCmd = &cobra.Command{
	Use:   "generate [host-ip...]",
	Short: "Reconstruct process chains for one or more suspicious host IPs",
	Long: `generate runs the batch-generate operation against the configured
query facade: it elects the alarm for each host, builds and extends the
process chain around it, and prints the resulting graph as JSON.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringSliceVar(&generateAssociations, "associated-event", nil,
		"host=eventID pairs giving the network-side associated event id for a host")
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "write result JSON to this file instead of stdout")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if result := cfg.Validate(config.ValidationContextGenerate); result.HasErrors() {
		return fmt.Errorf("%s", result.Error())
	}

	ipAndAssociation, err := buildIPMapping(args, generateAssociations)
	if err != nil {
		return err
	}

	facade, err := newFacade()
	if err != nil {
		return fmt.Errorf("failed to build query facade: %w", err)
	}

	orchestrator := chain.NewOrchestrator(facade, logger, chainLimits())

	result, err := orchestrator.Build(ctx, ipAndAssociation)
	if err != nil {
		return fmt.Errorf("batch-generate failed: %w", err)
	}

	recordCLIInvestigation(ctx, history.OperationBatchGenerate, ipAndAssociation, result, false)

	return writeResult(result.Chain, generateOutput)
}

// buildIPMapping turns positional host IPs plus --associated-event flags
// into the map the orchestrator expects.
func buildIPMapping(hostIPs []string, associations []string) (map[string]models.IpMappingRelation, error) {
	eventByHost := make(map[string]string, len(associations))
	for _, pair := range associations {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --associated-event %q, expected host=eventID", pair)
		}
		eventByHost[parts[0]] = parts[1]
	}

	out := make(map[string]models.IpMappingRelation, len(hostIPs))
	for _, ip := range hostIPs {
		eventID, ok := eventByHost[ip]
		out[ip] = models.IpMappingRelation{AssociatedEventID: eventID, HasAssociation: ok}
	}
	return out, nil
}

func writeResult(v interface{}, path string) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if path == "" {
		fmt.Println(string(b))
		return nil
	}
	return os.WriteFile(path, b, 0644)
}

// newFacade builds the query facade and wraps it with the configured cache,
// matching the wiring cmd/processchain-api uses for its own server. Unlike
// the server binary, the CLI falls through to CredentialManager's
// keychain/config-file/interactive-prompt chain when no key reached it via
// config or env var, since an interactive terminal is exactly the case that
// chain exists for.
func newFacade() (index.Facade, error) {
	indexCfg := cfg.Index
	if indexCfg.APIKey == "" {
		cm := config.NewCredentialManager()
		key, err := cm.GetIndexAPIKey()
		if err != nil {
			return nil, err
		}
		indexCfg.APIKey = key
	}

	cacheBackend, err := cache.NewBackend(context.Background(), cfg.Cache)
	if err != nil {
		logger.WithError(err).Warn("cache backend unavailable, proceeding uncached")
		cacheBackend = nil
	}
	return index.NewHTTPFacade(indexCfg, cacheBackend, cfg.Cache.TTL), nil
}

func chainLimits() chain.Limits {
	return chain.Limits{
		MaxTraverseDepth: cfg.Limits.MaxTraverseDepth,
		MaxLogsPerNode:   cfg.Limits.MaxLogsPerNode,
		MaxNodeCount:     cfg.Limits.MaxNodeCount,
		MaxExtDepth:      cfg.Limits.MaxExtDepth,
		MaxQuerySize:     cfg.Limits.MaxQuerySize,
	}
}

// recordCLIInvestigation mirrors internal/httpapi's recordInvestigation so
// a CLI-driven run leaves the same audit trail an HTTP-driven one would.
func recordCLIInvestigation(ctx context.Context, op history.Operation, ipAndAssociation map[string]models.IpMappingRelation, result *chain.Result, failedClosed bool) {
	store, err := history.NewRepository(cfg.History)
	if err != nil {
		logger.WithError(err).Warn("history store unavailable, skipping investigation record")
		return
	}
	defer store.Close()

	hostIPs := make([]string, 0, len(ipAndAssociation))
	for ip := range ipAndAssociation {
		hostIPs = append(hostIPs, ip)
	}

	rec := history.NewRecord(
		op,
		hostIPs,
		result.Chain.TraceIDs,
		string(result.Chain.ThreatSeverity),
		len(result.Chain.Nodes),
		len(result.Chain.Edges),
		result.PrunerFired,
		result.PrunerRolledBack,
		failedClosed,
		time.Now(),
	)
	if err := store.RecordInvestigation(ctx, rec); err != nil {
		logger.WithError(err).Warn("failed to record investigation history")
	}

	if !cfg.Audit.Enabled || !result.PrunerFired {
		return
	}
	auditClient, err := audit.NewClient(ctx, cfg.Audit.PostgresDSN)
	if err != nil {
		logger.WithError(err).Warn("audit client unavailable, skipping prune audit event")
		return
	}
	defer auditClient.Close()

	traceID := ""
	if len(result.Chain.TraceIDs) > 0 {
		traceID = result.Chain.TraceIDs[0]
	}
	if err := auditClient.RecordPrune(ctx, traceID, result.PrunerRolledBack); err != nil {
		logger.WithError(err).Warn("failed to record prune audit event")
	}
}

