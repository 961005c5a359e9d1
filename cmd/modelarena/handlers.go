// handlers.go implements the command logic: app bootstrap, experiment
// CRUD, runs and output validation.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prdlabs/modelarena/internal/blobcache"
	"github.com/prdlabs/modelarena/internal/config"
	"github.com/prdlabs/modelarena/internal/executor"
	"github.com/prdlabs/modelarena/internal/experiment"
	"github.com/prdlabs/modelarena/internal/jsonshape"
	"github.com/prdlabs/modelarena/internal/observability"
	"github.com/prdlabs/modelarena/internal/runner"
	"github.com/prdlabs/modelarena/internal/runview"
	"github.com/prdlabs/modelarena/internal/session"
	"github.com/prdlabs/modelarena/internal/snapshot"
)

type createFlags struct {
	name    string
	suite   string
	prompt  string
	models  []string
	repeatN int
}

type runFlags struct {
	experimentID   string
	prompt         string
	models         []string
	expectedFormat string
	repeatN        int
	concurrency    int
	local          bool
}

type validateFlags struct {
	strict     bool
	shape      string
	schemaFile string
}

// app holds everything the handlers share: config, logging, cache tiers
// and the user session.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observability.Metrics
	snaps   *snapshot.Store
	blobs   *blobcache.Store
	sess    *session.Session
}

func loadApp() (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Backend.Token == "" {
		cfg.Backend.Token = os.Getenv("MODELARENA_TOKEN")
	}

	log := buildLogger(cfg.Log)
	slog.SetDefault(log)

	snaps, err := snapshot.Open(cfg.SnapshotPath(), log)
	if err != nil {
		return nil, err
	}
	blobs, err := blobcache.New(cfg.BlobPath(), log)
	if err != nil {
		snaps.Close()
		return nil, err
	}

	metrics := observability.New(nil)
	sess, err := session.New(session.Options{
		UserID:    cfg.User,
		Snapshots: snaps,
		Blobs:     blobs,
		SaveDelay: time.Duration(cfg.Cache.SaveDelayMs) * time.Millisecond,
		Log:       log,
		Metrics:   metrics,
	})
	if err != nil {
		snaps.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: log, metrics: metrics, snaps: snaps, blobs: blobs, sess: sess}, nil
}

func (a *app) close() {
	a.sess.Close()
	a.snaps.Close()
}

func buildLogger(cfg config.Log) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn", "":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func (a *app) storeClient() (*experiment.StoreClient, error) {
	if a.cfg.Backend.BaseURL == "" {
		return nil, errors.New("backend.baseUrl is not configured")
	}
	return experiment.NewStoreClient(a.cfg.Backend.BaseURL, a.cfg.Backend.Token), nil
}

// chatRegistry builds local provider backends from configured credentials.
func (a *app) chatRegistry(ctx context.Context) (*executor.Registry, error) {
	registry := executor.NewRegistry()
	for platform, pc := range a.cfg.Platforms {
		if pc.APIKey == "" {
			continue
		}
		switch strings.ToLower(platform) {
		case "openai":
			backend := executor.NewOpenAIBackend(pc.APIKey)
			registry.RegisterChat(platform, backend)
			registry.RegisterImage(platform, backend)
		case "anthropic":
			registry.RegisterChat(platform, executor.NewAnthropicBackend(pc.APIKey))
		case "google", "gemini":
			backend, err := executor.NewGeminiBackend(ctx, pc.APIKey)
			if err != nil {
				return nil, err
			}
			registry.RegisterChat(platform, backend)
			registry.RegisterImage(platform, backend)
		default:
			a.log.Warn("unknown platform in config", "platform", platform)
		}
	}
	return registry, nil
}

func parseModelRefs(specs []string) ([]experiment.ModelRef, error) {
	refs := make([]experiment.ModelRef, 0, len(specs))
	for _, spec := range specs {
		platform, model, ok := strings.Cut(spec, "/")
		if !ok || platform == "" || model == "" {
			return nil, fmt.Errorf("model %q must be platform/modelId", spec)
		}
		refs = append(refs, experiment.ModelRef{Platform: platform, Model: model})
	}
	return refs, nil
}

// =============================================================================
// Experiments
// =============================================================================

func runExperimentsList(ctx context.Context, page, pageSize int) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.storeClient()
	if err != nil {
		return err
	}
	result, err := client.List(ctx, page, pageSize)
	if err != nil {
		return err
	}

	if len(result.Items) == 0 {
		fmt.Println("No experiments.")
		return nil
	}
	fmt.Printf("%-24s %-28s %-16s %s\n", "ID", "NAME", "SUITE", "MODELS")
	for _, exp := range result.Items {
		fmt.Printf("%-24s %-28s %-16s %d\n", exp.ID, exp.Name, exp.Suite, len(exp.Models))
	}
	fmt.Printf("\nPage %d of %d experiments total.\n", result.Page, result.Total)
	return nil
}

func runExperimentsCreate(ctx context.Context, flags createFlags) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.storeClient()
	if err != nil {
		return err
	}
	models, err := parseModelRefs(flags.models)
	if err != nil {
		return err
	}

	params := a.cfg.Defaults
	if flags.repeatN > 0 {
		params.RepeatN = flags.repeatN
	}
	created, err := client.Create(ctx, &experiment.Experiment{
		Name:   flags.name,
		Suite:  flags.suite,
		Prompt: flags.prompt,
		Params: params,
		Models: models,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created experiment %s (%d models).\n", created.ID, len(created.Models))
	return nil
}

func runExperimentsShow(ctx context.Context, id string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.storeClient()
	if err != nil {
		return err
	}
	exp, err := client.Get(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("ID:      %s\nName:    %s\nSuite:   %s\nRepeat:  %d\n", exp.ID, exp.Name, exp.Suite, exp.Params.RepeatN)
	fmt.Println("Models:")
	for _, m := range exp.Models {
		fmt.Printf("  - %s/%s\n", m.Platform, m.Model)
	}
	fmt.Printf("Prompt:\n%s\n", exp.Prompt)
	return nil
}

func runExperimentsDelete(ctx context.Context, id string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.storeClient()
	if err != nil {
		return err
	}
	if err := client.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Deleted experiment %s.\n", id)
	return nil
}

// =============================================================================
// Run
// =============================================================================

func runRun(ctx context.Context, flags runFlags) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	req, err := a.buildExecRequest(ctx, flags)
	if err != nil {
		return err
	}

	var opener runner.Opener
	if flags.local {
		registry, err := a.chatRegistry(ctx)
		if err != nil {
			return err
		}
		opener = executor.NewLocal(registry, a.log)
	} else {
		if a.cfg.Backend.BaseURL == "" {
			return errors.New("backend.baseUrl is not configured; use --local for in-process runs")
		}
		opener = &runner.HTTPOpener{BaseURL: a.cfg.Backend.BaseURL, Token: a.cfg.Backend.Token}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := runner.New(opener, a.log, a.metrics)
	run, err := orch.Start(context.WithoutCancel(ctx), req)
	if err != nil {
		return err
	}

	// A progress printer: one line per item reaching a terminal state.
	var printedMu sync.Mutex
	printed := make(map[string]bool)
	run.Subscribe(func(state *runview.State) {
		printedMu.Lock()
		defer printedMu.Unlock()
		for _, item := range state.Ordered() {
			if printed[item.ItemID] || item.Status == runview.StatusRunning {
				continue
			}
			printed[item.ItemID] = true
			printItemLine(item)
		}
		a.sess.UpdateRun(state)
	})

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\nInterrupted; freezing items at their last state.")
		run.Cancel()
		run.Wait()
	case <-run.Done():
	}

	state := run.State()
	a.sess.UpdateRun(state)
	a.sess.Flush()

	printRunSummary(state, flags.expectedFormat)
	if state.Failed {
		return fmt.Errorf("run failed: %s", state.ErrMsg)
	}
	return nil
}

func (a *app) buildExecRequest(ctx context.Context, flags runFlags) (runner.ExecRequest, error) {
	var req runner.ExecRequest
	if flags.experimentID != "" {
		client, err := a.storeClient()
		if err != nil {
			return req, err
		}
		exp, err := client.Get(ctx, flags.experimentID)
		if err != nil {
			return req, err
		}
		a.sess.SetExperiment(exp)
		req = runner.ExecRequest{
			ExperimentID: exp.ID,
			Prompt:       exp.Prompt,
			Models:       exp.Models,
			Params:       exp.Params,
		}
	} else {
		if flags.prompt == "" || len(flags.models) == 0 {
			return req, errors.New("ad-hoc runs need --prompt and at least one --model")
		}
		models, err := parseModelRefs(flags.models)
		if err != nil {
			return req, err
		}
		req = runner.ExecRequest{
			Prompt: flags.prompt,
			Models: models,
			Params: a.cfg.Defaults,
		}
	}

	req.ExpectedFormat = flags.expectedFormat
	if flags.repeatN > 0 {
		req.Params.RepeatN = flags.repeatN
	}
	if flags.concurrency > 0 {
		req.Params.MaxConcurrency = flags.concurrency
	}
	return req, nil
}

func printItemLine(item *runview.Item) {
	switch item.Status {
	case runview.StatusDone:
		fmt.Printf("  done  %-28s ttft=%dms total=%dms\n", item.ModelID, item.TTFTMs, item.TotalMs)
	case runview.StatusError:
		fmt.Printf("  FAIL  %-28s %s\n", item.ModelID, item.ErrMessage)
	}
}

func printRunSummary(state *runview.State, expectedFormat string) {
	fmt.Println("\n--- results ---")
	for _, item := range state.Ordered() {
		label := item.ModelID
		if item.RepeatN > 1 {
			label = fmt.Sprintf("%s [%d/%d]", item.ModelID, item.RepeatIndex+1, item.RepeatN)
		}
		fmt.Printf("%s: %s", label, item.Status)
		if item.Truncated {
			fmt.Print(" (output truncated)")
		}
		if expectedFormat != "" && item.Status == runview.StatusDone {
			res := classifyFor(expectedFormat, item.Raw)
			if res.OK {
				fmt.Printf("  [%s ok]", expectedFormat)
			} else {
				fmt.Printf("  [%s: %s]", expectedFormat, res.Reason)
			}
		}
		fmt.Println()
		if item.Status == runview.StatusDone && item.Preview != "" {
			fmt.Printf("  %s\n", strings.ReplaceAll(item.Preview, "\n", " "))
		}
	}
}

// classifyFor applies the expected-format rules to raw output. All formats
// except json-strict use tolerant salvage.
func classifyFor(format, raw string) jsonshape.Result {
	switch format {
	case "json-strict":
		return jsonshape.ValidateStrict(raw)
	case "function-call":
		res := jsonshape.Classify(raw)
		if !res.OK {
			return res
		}
		if _, ok := jsonshape.CheckFunctionCall(res.Value); !ok {
			return jsonshape.Result{Reason: "parsed JSON is not a function call"}
		}
		return res
	case "tool-call":
		res := jsonshape.Classify(raw)
		if !res.OK {
			return res
		}
		if _, ok := jsonshape.CheckToolCall(res.Value); !ok {
			return jsonshape.Result{Reason: "parsed JSON is not a tool call"}
		}
		return res
	default:
		return jsonshape.Classify(raw)
	}
}

// =============================================================================
// Validate
// =============================================================================

func runValidate(file string, flags validateFlags) error {
	var data []byte
	var err error
	if file == "" || file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return err
	}
	text := string(data)

	var res jsonshape.Result
	if flags.strict {
		res = jsonshape.ValidateStrict(text)
	} else {
		res = jsonshape.Classify(text)
	}
	if !res.OK {
		fmt.Printf("FAIL: %s\n", res.Reason)
		return errors.New(res.Reason)
	}

	switch flags.shape {
	case "":
	case "function-call":
		call, ok := jsonshape.CheckFunctionCall(res.Value)
		if !ok {
			fmt.Println("FAIL: parsed JSON is not a function call")
			return errors.New("not a function call")
		}
		fmt.Printf("function call: %s\n", call.Name)
	case "tool-call":
		call, ok := jsonshape.CheckToolCall(res.Value)
		if !ok {
			fmt.Println("FAIL: parsed JSON is not a tool call")
			return errors.New("not a tool call")
		}
		fmt.Printf("tool call: server=%s target=%s\n", call.Server, call.Target)
	case "plan":
		n, ok := jsonshape.CheckPlanItems(res.Value)
		if !ok {
			fmt.Println("FAIL: parsed JSON is not a plan")
			return errors.New("not a plan")
		}
		fmt.Printf("plan with %d items\n", n)
	default:
		return fmt.Errorf("unknown shape %q", flags.shape)
	}

	if flags.schemaFile != "" {
		schemaSource, err := os.ReadFile(flags.schemaFile)
		if err != nil {
			return err
		}
		schemaRes := jsonshape.ValidateSchema(string(schemaSource), res.Value)
		if !schemaRes.OK {
			fmt.Printf("FAIL: %s\n", schemaRes.Reason)
			return errors.New(schemaRes.Reason)
		}
	}

	fmt.Println("PASS")
	return nil
}
