package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"echoflow/internal/datasets"
	"echoflow/internal/storage"
	"echoflow/pkg/echoflow"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "forecast":
		return runForecast(ctx, args[1:])
	case "models":
		return runModels(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "delete":
		return runDelete(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func storeFlags(fs *flag.FlagSet) (storeKind, dbPath *string) {
	storeKind = fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath = fs.String("db-path", "echoflow.db", "sqlite database path")
	return storeKind, dbPath
}

func newClient(storeKind, dbPath string) (*echoflow.Client, error) {
	client, err := echoflow.New(echoflow.Options{StoreKind: storeKind, DBPath: dbPath})
	if err != nil {
		return nil, err
	}
	if err := client.Init(context.Background()); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func loadDataset(name string, steps int, seed int64) (xs, ys [][]float64, err error) {
	switch name {
	case "mackey-glass":
		series, err := datasets.MackeyGlass(steps+1, datasets.MackeyGlassParams{Seed: seed})
		if err != nil {
			return nil, nil, err
		}
		return datasets.ToForecast(series, 1)
	case "narma":
		return datasets.NARMA(steps, datasets.NARMAParams{Seed: seed})
	default:
		return nil, nil, fmt.Errorf("unsupported dataset: %s (want mackey-glass|narma)", name)
	}
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	name := fs.String("name", "", "model name")
	dataset := fs.String("dataset", "mackey-glass", "training dataset: mackey-glass|narma")
	steps := fs.Int("steps", 2000, "training series length")
	units := fs.Int("units", 100, "reservoir units")
	leakRate := fs.Float64("leak-rate", 0.3, "leak rate in ]0, 1]")
	spectralRadius := fs.Float64("spectral-radius", 1.25, "spectral radius of the recurrent matrix")
	connectivity := fs.Float64("connectivity", 0.1, "recurrent matrix density")
	activation := fs.String("activation", "tanh", "reservoir activation")
	equation := fs.String("equation", "internal", "state equation: internal|external")
	plasticity := fs.String("plasticity", "", "reservoir adaptation: ip|oja|anti-oja|hebbian|anti-hebbian|bcm")
	ridge := fs.Float64("ridge", 1e-8, "ridge regularization")
	warmup := fs.Int("warmup", 100, "transient timesteps discarded before the fit")
	feedback := fs.Bool("feedback", false, "feed the readout's output back into the reservoir")
	seed := fs.Int64("seed", 0, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	xs, ys, err := loadDataset(*dataset, *steps, *seed)
	if err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	esn, err := client.BuildESN(echoflow.ESNConfig{
		Name:           *name,
		Units:          *units,
		LeakRate:       *leakRate,
		SpectralRadius: *spectralRadius,
		Connectivity:   *connectivity,
		Activation:     *activation,
		Equation:       *equation,
		Plasticity:     *plasticity,
		Ridge:          *ridge,
		Warmup:         *warmup,
		Feedback:       *feedback,
		Seed:           *seed,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = esn.Close()
	}()

	summary, err := client.Train(ctx, esn, xs, ys)
	if err != nil {
		return err
	}

	fmt.Printf("model %s trained on %s timesteps of %s (mse %.6g)\n",
		esn.ID(), humanize.Comma(int64(summary.Steps)), *dataset, summary.MSE)
	fmt.Printf("run %s\n", summary.RunID)
	return nil
}

func runForecast(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("forecast", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	modelID := fs.String("model", "", "stored model id")
	dataset := fs.String("dataset", "mackey-glass", "priming dataset: mackey-glass|narma")
	prime := fs.Int("prime", 500, "priming timesteps before generation")
	horizon := fs.Int("horizon", 100, "generated timesteps")
	seed := fs.Int64("seed", 0, "dataset seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *modelID == "" {
		return usageError("forecast requires -model")
	}

	xs, _, err := loadDataset(*dataset, *prime, *seed)
	if err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	esn, err := client.LoadESN(ctx, *modelID)
	if err != nil {
		return err
	}
	defer func() {
		_ = esn.Close()
	}()

	series, runID, err := client.Forecast(ctx, esn, xs, *horizon)
	if err != nil {
		return err
	}

	fmt.Printf("run %s generated %s timesteps\n", runID, humanize.Comma(int64(len(series))))
	preview := len(series)
	if preview > 5 {
		preview = 5
	}
	for t := 0; t < preview; t++ {
		fmt.Printf("  t+%d: %v\n", t+1, series[t])
	}
	return nil
}

func runModels(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	models, err := client.Models(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Println("no stored models")
		return nil
	}
	for _, m := range models {
		name := m.Name
		if name == "" {
			name = "-"
		}
		state := "untrained"
		if m.Fitted {
			state = "fitted"
		}
		fmt.Printf("%s  name=%s units=%s dims=%d->%d %s saved %s\n",
			m.ID, name, humanize.Comma(int64(m.Units)), m.InputDim, m.OutputDim,
			state, humanize.Time(m.CreatedAt))
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	modelID := fs.String("model", "", "restrict to one model id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, *modelID)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s  model=%s %s steps=%s started %s",
			r.RunID, r.ModelID, r.Kind, humanize.Comma(int64(r.Steps)), humanize.Time(r.StartedAt))
		if r.Kind == "train" {
			line += fmt.Sprintf(" mse=%.6g", r.MSE)
		}
		fmt.Println(line)
	}
	return nil
}

func runDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	modelID := fs.String("model", "", "stored model id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *modelID == "" {
		return usageError("delete requires -model")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.DeleteModel(ctx, *modelID); err != nil {
		return err
	}
	fmt.Printf("deleted model %s\n", *modelID)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	runID := fs.String("run", "", "forecast run id")
	out := fs.String("out", "", "output path, stdout when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("export requires -run")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	series, ok, err := client.Series(ctx, *runID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run %s has no stored series", *runID)
	}

	payload, err := json.MarshalIndent(series, "", "  ")
	if err != nil {
		return err
	}
	if *out == "" {
		fmt.Println(string(payload))
		return nil
	}
	if err := os.WriteFile(*out, payload, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s timesteps to %s\n", humanize.Comma(int64(len(series))), *out)
	return nil
}

func usageError(msg string) error {
	commands := strings.Join([]string{
		"init", "train", "forecast", "models", "runs", "delete", "export",
	}, "|")
	return fmt.Errorf("%s\nusage: echoflowctl <%s> [flags]", msg, commands)
}
