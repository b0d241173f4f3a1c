// Package echoflow is the public facade of the reservoir computing
// library: it builds, trains, runs and persists echo state networks on
// top of the internal node graph.
package echoflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"echoflow/internal/node"
	"echoflow/internal/readout"
	"echoflow/internal/record"
	"echoflow/internal/reservoir"
	"echoflow/internal/storage"
)

const defaultDBPath = "echoflow.db"

// Options configures a Client.
type Options struct {
	StoreKind string // "memory" (default) or "sqlite"
	DBPath    string
}

// Client owns the persistence backend and builds network handles.
type Client struct {
	store storage.Store
}

// ESNConfig describes a network to build. Zero values fall back to the
// reference defaults of the underlying nodes.
type ESNConfig struct {
	Name string

	Units          int
	LeakRate       float64
	SpectralRadius float64
	InputScaling   float64
	BiasScaling    float64
	Connectivity   float64
	NoiseRC        float64
	Activation     string
	Equation       string // "internal" (default) or "external"

	// Plasticity selects an unsupervised reservoir adaptation run before
	// the readout fit: "" (none), "ip", or a local synaptic rule name
	// ("oja", "anti-oja", "hebbian", "anti-hebbian", "bcm").
	Plasticity       string
	PlasticityEta    float64
	PlasticityMu     float64
	PlasticitySigma  float64
	PlasticityEpochs int

	Ridge    float64
	Warmup   int
	Feedback bool // wire the readout's previous output back into the reservoir
	Seed     int64
}

// ESN is a live network handle: a reservoir feeding a ridge readout,
// composed into a runnable model.
type ESN struct {
	id  string
	cfg ESNConfig

	res     *reservoir.Reservoir
	resNode node.Node
	adapter interface{ Adapt([][]float64, int) error }
	out     *readout.Ridge
	model   *node.Model
}

// ID returns the persistent identity of the network.
func (e *ESN) ID() string { return e.id }

// Model exposes the underlying node graph.
func (e *ESN) Model() *node.Model { return e.model }

// Readout exposes the trained output layer.
func (e *ESN) Readout() *readout.Ridge { return e.out }

// Reservoir exposes the recurrent pool.
func (e *ESN) Reservoir() *reservoir.Reservoir { return e.res }

// Close releases every node name the handle claimed.
func (e *ESN) Close() error {
	errs := []error{e.resNode.Close(), e.out.Close(), e.model.Close()}
	return errors.Join(errs...)
}

// TrainSummary reports a completed training run.
type TrainSummary struct {
	RunID string
	Steps int
	MSE   float64
}

// ModelItem is one row of a stored-model listing.
type ModelItem struct {
	ID        string
	Name      string
	Units     int
	InputDim  int
	OutputDim int
	Fitted    bool
	CreatedAt time.Time
}

// RunItem is one row of a run listing.
type RunItem struct {
	RunID     string
	ModelID   string
	Kind      string
	Steps     int
	MSE       float64
	StartedAt time.Time
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{store: store}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// BuildESN constructs a fresh, untrained network from cfg.
func (c *Client) BuildESN(cfg ESNConfig) (*ESN, error) {
	if cfg.Units <= 0 {
		cfg.Units = 100
	}
	resCfg := reservoir.Config{
		Units:          cfg.Units,
		LeakRate:       cfg.LeakRate,
		SpectralRadius: cfg.SpectralRadius,
		InputScaling:   cfg.InputScaling,
		BiasScaling:    cfg.BiasScaling,
		Connectivity:   cfg.Connectivity,
		NoiseRC:        cfg.NoiseRC,
		Activation:     cfg.Activation,
		Equation:       reservoir.Equation(cfg.Equation),
		Seed:           cfg.Seed,
	}

	resName, outName := "", ""
	if cfg.Name != "" {
		resName = cfg.Name + "-reservoir"
		outName = cfg.Name + "-readout"
	}

	var (
		res     *reservoir.Reservoir
		resNode node.Node
		adapter interface{ Adapt([][]float64, int) error }
	)
	switch cfg.Plasticity {
	case "":
		r, err := reservoir.New(resName, resCfg)
		if err != nil {
			return nil, err
		}
		res, resNode = r, r
	case "ip":
		r, err := reservoir.NewIP(resName, reservoir.IPConfig{
			Reservoir:    resCfg,
			Mu:           cfg.PlasticityMu,
			Sigma:        cfg.PlasticitySigma,
			LearningRate: cfg.PlasticityEta,
			Epochs:       cfg.PlasticityEpochs,
		})
		if err != nil {
			return nil, err
		}
		res, resNode, adapter = r.Reservoir, r, r
	default:
		r, err := reservoir.NewLocalPlasticity(resName, reservoir.LocalConfig{
			Reservoir: resCfg,
			Rule:      reservoir.LocalRule(cfg.Plasticity),
			Eta:       cfg.PlasticityEta,
			Epochs:    cfg.PlasticityEpochs,
		})
		if err != nil {
			return nil, err
		}
		res, resNode, adapter = r.Reservoir, r, r
	}

	out, err := readout.NewRidge(outName, readout.RidgeConfig{Ridge: cfg.Ridge})
	if err != nil {
		resNode.Close()
		return nil, err
	}

	model, err := node.Link(resNode, out)
	if err != nil {
		resNode.Close()
		out.Close()
		return nil, err
	}
	if cfg.Feedback {
		if err := node.LinkFeedback(resNode, out); err != nil {
			resNode.Close()
			out.Close()
			model.Close()
			return nil, err
		}
	}

	return &ESN{
		id:      uuid.NewString(),
		cfg:     cfg,
		res:     res,
		resNode: resNode,
		adapter: adapter,
		out:     out,
		model:   model,
	}, nil
}

// Train runs the optional plasticity adaptation, fits the readout over
// the series and persists the trained network with a run summary.
func (c *Client) Train(ctx context.Context, esn *ESN, xs, ys [][]float64) (TrainSummary, error) {
	if len(xs) == 0 || len(xs) != len(ys) {
		return TrainSummary{}, fmt.Errorf("training needs equal-length input and target series, got %d/%d", len(xs), len(ys))
	}

	if esn.adapter != nil {
		if err := esn.adapter.Adapt(xs, esn.cfg.Warmup); err != nil {
			return TrainSummary{}, fmt.Errorf("plasticity adaptation: %w", err)
		}
		if err := esn.resNode.Reset(nil); err != nil {
			return TrainSummary{}, err
		}
	}

	if err := esn.model.Fit(xs, ys, esn.cfg.Warmup); err != nil {
		return TrainSummary{}, err
	}

	preds, err := esn.model.Run(xs, node.StepOptions{Reset: true})
	if err != nil {
		return TrainSummary{}, err
	}
	mse := meanSquaredError(preds[esn.cfg.Warmup:], ys[esn.cfg.Warmup:])

	if err := c.SaveESN(ctx, esn); err != nil {
		return TrainSummary{}, err
	}

	run := record.RunSummary{
		VersionedRecord: storage.Stamp(),
		ID:              uuid.NewString(),
		ModelID:         esn.id,
		Kind:            "train",
		Steps:           len(xs),
		MSE:             mse,
		StartedAt:       time.Now().UTC(),
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return TrainSummary{}, err
	}
	return TrainSummary{RunID: run.ID, Steps: len(xs), MSE: mse}, nil
}

// Forecast primes the network on a warmup series and then runs it
// generatively for horizon steps, feeding each prediction back as the
// next input. The run and the generated series are persisted.
func (c *Client) Forecast(ctx context.Context, esn *ESN, prime [][]float64, horizon int) ([][]float64, string, error) {
	if horizon <= 0 {
		return nil, "", fmt.Errorf("forecast horizon must be positive, got %d", horizon)
	}
	if !esn.out.Fitted() {
		return nil, "", fmt.Errorf("%s: %w", esn.out.Name(), readout.ErrNotFitted)
	}
	if len(prime) == 0 {
		return nil, "", errors.New("forecast needs a priming series")
	}
	if esn.model.InputDim() != 0 && esn.model.OutputDim() != 0 && esn.model.InputDim() != esn.model.OutputDim() {
		return nil, "", fmt.Errorf("generative forecast needs matching input and output dimensions, got %d and %d",
			esn.model.InputDim(), esn.model.OutputDim())
	}

	states, err := esn.model.Run(prime, node.StepOptions{Reset: true})
	if err != nil {
		return nil, "", err
	}

	out := make([][]float64, horizon)
	u := states[len(states)-1]
	for h := 0; h < horizon; h++ {
		y, err := esn.model.Call(u)
		if err != nil {
			return nil, "", fmt.Errorf("forecast step %d: %w", h, err)
		}
		out[h] = y
		u = y
	}

	run := record.RunSummary{
		VersionedRecord: storage.Stamp(),
		ID:              uuid.NewString(),
		ModelID:         esn.id,
		Kind:            "forecast",
		Steps:           horizon,
		StartedAt:       time.Now().UTC(),
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return nil, "", err
	}
	if err := c.store.SaveSeries(ctx, run.ID, out); err != nil {
		return nil, "", err
	}
	return out, run.ID, nil
}

// Predict runs the network over a series without persisting anything.
func (c *Client) Predict(esn *ESN, xs [][]float64) ([][]float64, error) {
	return esn.model.Run(xs, node.StepOptions{Reset: true})
}

// SaveESN persists the network's configuration and weights.
func (c *Client) SaveESN(ctx context.Context, esn *ESN) error {
	rec, err := snapshotESN(esn)
	if err != nil {
		return err
	}
	return c.store.SaveESN(ctx, rec)
}

// LoadESN rebuilds a live network handle from the store.
func (c *Client) LoadESN(ctx context.Context, id string) (*ESN, error) {
	rec, ok, err := c.store.GetESN(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("model %s not found", id)
	}
	return restoreESN(rec)
}

// Models lists the stored networks.
func (c *Client) Models(ctx context.Context) ([]ModelItem, error) {
	recs, err := c.store.ListESNs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ModelItem, 0, len(recs))
	for _, rec := range recs {
		out = append(out, ModelItem{
			ID:        rec.ID,
			Name:      rec.Name,
			Units:     rec.Reservoir.Units,
			InputDim:  rec.InputDim,
			OutputDim: rec.OutputDim,
			Fitted:    rec.Readout.Fitted,
			CreatedAt: rec.CreatedAt,
		})
	}
	return out, nil
}

// Runs lists the recorded runs, optionally restricted to one model.
func (c *Client) Runs(ctx context.Context, modelID string) ([]RunItem, error) {
	recs, err := c.store.ListRuns(ctx, modelID)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, len(recs))
	for _, rec := range recs {
		out = append(out, RunItem{
			RunID:     rec.ID,
			ModelID:   rec.ModelID,
			Kind:      rec.Kind,
			Steps:     rec.Steps,
			MSE:       rec.MSE,
			StartedAt: rec.StartedAt,
		})
	}
	return out, nil
}

// Series fetches a persisted forecast series by run ID.
func (c *Client) Series(ctx context.Context, runID string) ([][]float64, bool, error) {
	return c.store.GetSeries(ctx, runID)
}

// DeleteModel removes a stored network.
func (c *Client) DeleteModel(ctx context.Context, id string) error {
	return c.store.DeleteESN(ctx, id)
}

func meanSquaredError(preds, targets [][]float64) float64 {
	if len(preds) == 0 {
		return 0
	}
	sum, n := 0.0, 0
	for t := range preds {
		for i := range preds[t] {
			d := preds[t][i] - targets[t][i]
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
