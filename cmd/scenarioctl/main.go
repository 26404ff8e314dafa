// Command scenarioctl is a thin CLI over orchestrator.API (§6 "Orchestrator
// API"), in the style of cmd/buildrisk's flag-based entrypoint: one
// subcommand per lifecycle operation, reading/writing the same store and
// Temporal client the worker process uses.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/antigravity-dev/buildrisk/internal/config"
	"github.com/antigravity-dev/buildrisk/internal/orchestrator"
	"github.com/antigravity-dev/buildrisk/internal/scandispatch"
	"github.com/antigravity-dev/buildrisk/internal/store"
)

func usage() {
	fmt.Fprintln(os.Stderr, `scenarioctl <command> [flags]

Commands:
  create            -name NAME -yaml-file PATH
  update            -id ID -yaml-file PATH
  delete            -id ID
  start-generation  -id ID
  start-processing  -id ID
  reingest-missing  -id ID
  retry-scan        -id ID -commit SHA -tool sonar|trivy
  get-splits        -id ID
  download-split    -id ID -split train|validation|test`)
}

func buildAPI(configPath string) (*orchestrator.API, *store.Store, client.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(config.ExpandHome(cfg.General.StateDB))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	c, err := client.Dial(client.Options{HostPort: cfg.General.TemporalHostPort})
	if err != nil {
		st.Close()
		return nil, nil, nil, fmt.Errorf("dial temporal: %w", err)
	}
	api := &orchestrator.API{
		Store: st,
		Client: c,
		Roots: orchestrator.Roots{
			ReposRoot:      cfg.Storage.ReposRoot(),
			WorktreesRoot:  cfg.Storage.WorktreesRoot(),
			LogsRoot:       cfg.Storage.LogsRoot(),
			ScanConfigRoot: cfg.Storage.ScanConfigRoot(),
			ScenariosRoot:  cfg.Storage.ScenariosRoot(),
		},
		TaskQueue: cfg.General.TaskQueue,
	}
	return api, st, c, nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "buildrisk.toml", "path to config file")
	id := fs.String("id", "", "scenario id")
	name := fs.String("name", "", "scenario name")
	yamlFile := fs.String("yaml-file", "", "path to scenario YAML")
	commit := fs.String("commit", "", "commit SHA")
	tool := fs.String("tool", "", "scan tool (sonar|trivy)")
	split := fs.String("split", "", "split partition (train|validation|test)")
	fs.Parse(os.Args[2:])

	api, st, c, err := buildAPI(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scenarioctl:", err)
		os.Exit(1)
	}
	defer st.Close()
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := dispatch(ctx, api, cmd, *id, *name, *yamlFile, *commit, *tool, *split); err != nil {
		fmt.Fprintln(os.Stderr, "scenarioctl:", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, api *orchestrator.API, cmd, id, name, yamlFile, commit, toolName, split string) error {
	switch cmd {
	case "create":
		y, err := readYAML(yamlFile)
		if err != nil {
			return err
		}
		newID, err := api.CreateScenario(name, y)
		if err != nil {
			return err
		}
		fmt.Println(newID)
		return nil

	case "update":
		y, err := readYAML(yamlFile)
		if err != nil {
			return err
		}
		return api.UpdateScenario(id, y)

	case "delete":
		return api.DeleteScenario(id)

	case "start-generation":
		return api.StartScenarioGeneration(ctx, id)

	case "start-processing":
		return api.StartProcessing(ctx, id)

	case "reingest-missing":
		return api.ReingestMissingResource(ctx, id)

	case "retry-scan":
		t, err := parseTool(toolName)
		if err != nil {
			return err
		}
		return api.RetryCommitScan(ctx, id, commit, t)

	case "get-splits":
		d, err := api.GetScenarioSplits(id)
		if err != nil {
			return err
		}
		if d == nil {
			fmt.Println("no split recorded yet")
			return nil
		}
		fmt.Printf("train=%s validation=%s test=%s\n", d.TrainPath, d.ValPath, d.TestPath)
		return nil

	case "download-split":
		path, err := api.DownloadSplitFile(id, split)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func readYAML(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("-yaml-file is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func parseTool(name string) (scandispatch.Tool, error) {
	switch name {
	case "sonar":
		return scandispatch.ToolSonar, nil
	case "trivy":
		return scandispatch.ToolTrivy, nil
	default:
		return "", fmt.Errorf("-tool must be sonar or trivy, got %q", name)
	}
}
