// Command submitter runs deployment lifecycle steps from the command line.
//
// It loads the configuration and a TOSCA application description template,
// resolves the template's entities to the configured adaptors, and runs the
// requested steps in order. Submission state is persisted under the
// configured state directory so later invocations (update, undeploy) pick
// up where the previous one left off.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/micado-scale/submitter/buildinfo"
	"github.com/micado-scale/submitter/config"
	"github.com/micado-scale/submitter/logging"
	"github.com/micado-scale/submitter/metrics"
	"github.com/micado-scale/submitter/orchestrator"
	"github.com/micado-scale/submitter/pipeline"
	"github.com/micado-scale/submitter/registry"
	"github.com/micado-scale/submitter/submission"
	"github.com/micado-scale/submitter/template"
)

type Args struct {
	ConfigPath   string
	TemplatePath string
	SubmissionID string
	Steps        string
	DryRun       bool
	Version      bool
}

func main() {
	if err := doMain(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func doMain() error {
	args := parseArgs()
	if args.Version {
		fmt.Println(buildinfo.Get())
		return nil
	}
	if args.ConfigPath == "" {
		return fmt.Errorf("-c or --config flag is required")
	}

	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Main.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logger.Info("submitter started", "config_path", args.ConfigPath)

	reg, err := registry.LoadFromConfig(cfg.Adaptors)
	if err != nil {
		return fmt.Errorf("loading adaptors: %w", err)
	}
	pipe, err := pipeline.Load(cfg.Steps, reg)
	if err != nil {
		return fmt.Errorf("loading step orders: %w", err)
	}

	steps, err := parseSteps(args.Steps)
	if err != nil {
		return err
	}

	var tpl *template.Template
	if args.TemplatePath != "" {
		tpl, err = template.Load(args.TemplatePath)
		if err != nil {
			return fmt.Errorf("loading template: %w", err)
		}
		logger.Info("template loaded", "name", tpl.Name, "entities", tpl.Entities())
	}

	if args.DryRun {
		if tpl == nil {
			return fmt.Errorf("-t or --template flag is required for a dry run")
		}
		return dryRun(reg, pipe, tpl)
	}

	store, err := submission.NewDiskStore(cfg.Server.StateDir, logger.Logger)
	if err != nil {
		return fmt.Errorf("opening submission store: %w", err)
	}

	sub, err := resolveSubmission(store, args, tpl)
	if err != nil {
		return err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger.Logger),
		orchestrator.WithStore(store),
		orchestrator.WithAdaptorTimeout(cfg.Main.AdaptorTimeout),
	}
	if cfg.Monitoring.RemoteWriteURL != "" {
		observer, err := pushObserver(cfg)
		if err != nil {
			return err
		}
		orchOpts = append(orchOpts, orchestrator.WithObserver(observer))
	}
	orch := orchestrator.New(reg, pipe, orchOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, step := range steps {
		result, err := orch.RunStep(ctx, step, sub)
		if err != nil {
			return fmt.Errorf("step %s: %w", step, err)
		}
		if !result.IsSuccess() {
			for _, sr := range result.Failed() {
				logger.Error("adaptor failed", "step", step.String(), "adaptor", sr.Adaptor, "error", sr.Error)
			}
			return fmt.Errorf("step %s ended with status %s", step, result.Status)
		}
	}

	logger.Info("submitter completed", "submission", sub.ID, "state", sub.State)
	return nil
}

// resolveSubmission loads an existing submission or creates one for a fresh
// deployment.
func resolveSubmission(store submission.Store, args Args, tpl *template.Template) (*submission.Context, error) {
	if args.SubmissionID != "" {
		if sub, ok := store.Get(args.SubmissionID); ok {
			if tpl != nil {
				sub.Template = tpl
			}
			return sub, nil
		}
	}
	if tpl == nil {
		return nil, fmt.Errorf("-t or --template flag is required for a new submission")
	}

	id := args.SubmissionID
	if id == "" {
		id = tpl.Name
	}
	if id == "" {
		return nil, fmt.Errorf("template has no name; use -i to set a submission id")
	}
	sub := submission.New(id, tpl.Name)
	sub.Template = tpl
	return sub, nil
}

// dryRun prints how the template's entities map onto adaptors without
// invoking anything.
func dryRun(reg *registry.Registry, pipe *pipeline.Pipeline, tpl *template.Template) error {
	subsets, err := orchestrator.New(reg, pipe).Partition(tpl)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(subsets))
	for name := range subsets {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("template %q resolves to %d adaptor(s):\n", tpl.Name, len(names))
	for _, name := range names {
		subset := subsets[name]
		fmt.Printf("  %s: %d node(s), %d policy(ies)\n", name, len(subset.Nodes), len(subset.Policies))
	}
	return nil
}

func pushObserver(cfg config.Config) (orchestrator.StepObserver, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("getting hostname: %w", err)
	}
	observer, err := metrics.NewSubmitter(metrics.NewPushRegistry(metrics.PushConfig{
		URL:      cfg.Monitoring.RemoteWriteURL,
		Prefix:   cfg.Monitoring.MetricsPrefix,
		Job:      cfg.Monitoring.JobName,
		Instance: hostname,
	}))
	if err != nil {
		return nil, err
	}
	return observer, nil
}

func parseSteps(list string) ([]pipeline.Step, error) {
	if list == "" {
		return []pipeline.Step{pipeline.StepTranslate, pipeline.StepExecute}, nil
	}

	var steps []pipeline.Step
	for _, name := range strings.Split(list, ",") {
		step, err := pipeline.ParseStep(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseArgs() Args {
	var args Args
	flag.StringVar(&args.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&args.ConfigPath, "c", "", "Path to config file (shorthand)")
	flag.StringVar(&args.TemplatePath, "template", "", "Path to the application description template")
	flag.StringVar(&args.TemplatePath, "t", "", "Path to the application description template (shorthand)")
	flag.StringVar(&args.SubmissionID, "id", "", "Submission ID (defaults to the template name)")
	flag.StringVar(&args.SubmissionID, "i", "", "Submission ID (shorthand)")
	flag.StringVar(&args.Steps, "steps", "", "Comma-separated steps to run (default: translate,execute)")
	flag.StringVar(&args.Steps, "s", "", "Comma-separated steps to run (shorthand)")
	flag.BoolVar(&args.DryRun, "dry-run", false, "Resolve the template to adaptors without invoking them")
	flag.BoolVar(&args.Version, "version", false, "Print version and exit")
	flag.Parse()
	return args
}
