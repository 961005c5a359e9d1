// handlers_images.go implements the image planning, generation and cache
// commands.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/prdlabs/modelarena/internal/executor"
	"github.com/prdlabs/modelarena/internal/imagegen"
	"github.com/prdlabs/modelarena/internal/jsonshape"
)

type planFlags struct {
	local        bool
	systemPrompt string
}

type generateBatchFlags struct {
	models      []string
	concurrency int
	local       bool
	yes         bool
}

type generateSingleFlags struct {
	models   []string
	size     string
	perModel int
	local    bool
}

// imageStack resolves the planner, batch opener and single generator for
// either the hosted backend or local execution.
func (a *app) imageStack(ctx context.Context, local bool) (imagegen.Planner, imagegen.BatchOpener, imagegen.SingleGenerator, error) {
	if local {
		registry, err := a.chatRegistry(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		localExec := executor.NewLocal(registry, a.log)

		var plannerChat executor.ChatStreamer
		if s, err := registry.Chat(a.cfg.Planner.Platform); err == nil {
			plannerChat = s
		} else {
			a.log.Warn("planner platform not configured, plans will use the fallback resolver",
				"platform", a.cfg.Planner.Platform)
		}
		planner := executor.NewLocalPlanner(plannerChat, a.cfg.Planner.Model, a.log)
		return planner, localExec, localExec, nil
	}

	if a.cfg.Backend.BaseURL == "" {
		return nil, nil, nil, errors.New("backend.baseUrl is not configured; use --local for in-process generation")
	}
	client := &imagegen.HTTPClient{BaseURL: a.cfg.Backend.BaseURL, Token: a.cfg.Backend.Token}
	return client, client, client, nil
}

func runPlan(ctx context.Context, instruction string, flags planFlags) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	planner, opener, _, err := a.imageStack(ctx, flags.local)
	if err != nil {
		return err
	}
	pipeline := imagegen.NewPipeline(planner, opener, a.log, a.metrics)
	plan, err := pipeline.BuildPlan(ctx, instruction, flags.systemPrompt)
	if err != nil {
		return err
	}
	printPlan(plan)
	return nil
}

func printPlan(plan *imagegen.Plan) {
	if plan.Fallback {
		fmt.Println("(plan produced by the fallback resolver)")
	}
	fmt.Printf("%-4s %-6s %-12s %s\n", "#", "COUNT", "SIZE", "PROMPT")
	for i, item := range plan.Items {
		size := item.Size
		if size == "" {
			size = "-"
		}
		fmt.Printf("%-4d %-6d %-12s %s\n", i+1, item.Count, size, item.Prompt)
	}
	fmt.Printf("\n%d images total.\n", plan.Total)
}

func runGenerateBatch(ctx context.Context, instruction string, flags generateBatchFlags) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	models, err := parseModelRefs(flags.models)
	if err != nil {
		return err
	}
	planner, opener, _, err := a.imageStack(ctx, flags.local)
	if err != nil {
		return err
	}
	pipeline := imagegen.NewPipeline(planner, opener, a.log, a.metrics)

	plan, err := pipeline.BuildPlan(ctx, instruction, "")
	if err != nil {
		return err
	}
	printPlan(plan)

	if !flags.yes && !confirm(fmt.Sprintf("Generate %d images across %d models?", plan.Total, len(models))) {
		fmt.Println("Aborted before generation.")
		return nil
	}

	stop := &imagegen.Stop{}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			fmt.Fprintln(os.Stderr, "\nStopping; finished models keep their results.")
			stop.Trigger()
		}
	}()

	view := a.sess.Images()
	err = pipeline.Generate(ctx, models, plan, view, imagegen.GenerateOptions{
		Concurrency: flags.concurrency,
		Encoding:    "b64",
		Stop:        stop,
	})
	a.sess.QueueSnapshot()
	a.sess.Flush()
	if err != nil {
		return err
	}
	printImageSummary(view)
	return nil
}

func runGenerateSingle(ctx context.Context, prompt string, flags generateSingleFlags) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	models, err := parseModelRefs(flags.models)
	if err != nil {
		return err
	}
	planner, opener, single, err := a.imageStack(ctx, flags.local)
	if err != nil {
		return err
	}
	pipeline := imagegen.NewPipeline(planner, opener, a.log, a.metrics)

	// A bare ratio flag maps through the supported-ratio table.
	size := flags.size
	if size != "" && !strings.ContainsAny(size, "xX×*") {
		if info := jsonshape.Infer(size); info.Size != "" {
			size = info.Size
			fmt.Printf("Using %s for ratio %s.\n", info.Size, info.Ratio)
		}
	}

	stop := &imagegen.Stop{}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			stop.Trigger()
		}
	}()

	view := a.sess.Images()
	err = pipeline.GenerateSingle(ctx, single, uuid.NewString(), models, prompt, size, flags.perModel, view, stop)
	a.sess.QueueSnapshot()
	a.sess.Flush()
	if err != nil {
		return err
	}
	printImageSummary(view)
	return nil
}

func printImageSummary(view *imagegen.View) {
	fmt.Println("\n--- images ---")
	for _, item := range view.Items() {
		fmt.Printf("%-40s %-8s", item.Key, item.Status)
		if item.SizeAdjusted {
			fmt.Printf(" size %s -> %s", item.RequestedSize, item.EffectiveSize)
		}
		if item.ErrMessage != "" {
			fmt.Printf(" (%s)", item.ErrMessage)
		}
		fmt.Println()
	}
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// =============================================================================
// Cache
// =============================================================================

func runCacheStatus(ctx context.Context) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	snap, ok, err := a.snaps.Load(ctx, a.cfg.User)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("No snapshot for user %q.\n", a.cfg.User)
	} else {
		fmt.Printf("Snapshot for %q saved at %s.\n", a.cfg.User, snap.SavedAt.Format("2006-01-02 15:04:05"))
		if snap.Experiment != nil {
			fmt.Printf("  experiment: %s (%s)\n", snap.Experiment.Name, snap.Experiment.ID)
		}
		if snap.Run != nil {
			fmt.Printf("  run items:  %d\n", len(snap.Run.Items))
		}
		fmt.Printf("  image slots: %d\n", len(snap.Images))
	}

	var blobCount int
	var blobBytes int64
	err = filepath.WalkDir(a.cfg.BlobPath(), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".bin") {
			return nil
		}
		if info, err := d.Info(); err == nil {
			blobCount++
			blobBytes += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	fmt.Printf("Blob tier: %d blobs, %d bytes.\n", blobCount, blobBytes)
	return nil
}

func runCacheClear(ctx context.Context) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.sess.ClearCache(ctx); err != nil {
		return err
	}
	fmt.Printf("Cleared both cache tiers for user %q.\n", a.cfg.User)
	return nil
}
