package echoflow

import (
	"fmt"
	"time"

	"echoflow/internal/node"
	"echoflow/internal/readout"
	"echoflow/internal/record"
	"echoflow/internal/reservoir"
	"echoflow/internal/storage"
	"echoflow/internal/tensor"
)

// snapshotESN captures a live network into its persistent form.
func snapshotESN(esn *ESN) (record.ESN, error) {
	resCfg := esn.res.Config()

	resRec := record.Reservoir{
		Name:           esn.res.Name(),
		Units:          resCfg.Units,
		LeakRate:       resCfg.LeakRate,
		SpectralRadius: resCfg.SpectralRadius,
		Activation:     resCfg.Activation,
		FbActivation:   resCfg.FbActivation,
		Equation:       string(resCfg.Equation),
		NoiseIn:        resCfg.NoiseIn,
		NoiseRC:        resCfg.NoiseRC,
		NoiseFb:        resCfg.NoiseFb,
		NoiseDist:      string(resCfg.NoiseDist),
		Seed:           resCfg.Seed,
		W:              record.FromWeights(esn.res.W()),
		Win:            record.FromWeights(esn.res.Win()),
		Wfb:            record.FromWeights(esn.res.Wfb()),
		Bias:           esn.res.Bias(),
	}
	switch r := esn.resNode.(type) {
	case *reservoir.IPReservoir:
		resRec.Gains = r.A()
		resRec.Biases = r.B()
		resRec.Eta = esn.cfg.PlasticityEta
		resRec.Mu = esn.cfg.PlasticityMu
		resRec.Sigma = esn.cfg.PlasticitySigma
	case *reservoir.LocalPlasticityReservoir:
		resRec.Rule = string(r.Rule())
		resRec.Eta = esn.cfg.PlasticityEta
		resRec.Theta = r.Theta()
		resRec.SynapseNormalization = r.SynapseNormalization()
	}

	outRec := record.Readout{
		Name:   esn.out.Name(),
		Kind:   "ridge",
		Ridge:  esn.cfg.Ridge,
		Bias:   esn.out.Bias(),
		Fitted: esn.out.Fitted(),
	}
	if w := esn.out.Wout(); w != nil {
		outRec.Wout = record.FromWeights(w)
	}

	return record.ESN{
		VersionedRecord: storage.Stamp(),
		ID:              esn.id,
		Name:            esn.cfg.Name,
		InputDim:        esn.model.InputDim(),
		OutputDim:       esn.model.OutputDim(),
		Feedback:        esn.cfg.Feedback,
		Warmup:          esn.cfg.Warmup,
		Reservoir:       resRec,
		Readout:         outRec,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// restoreESN rebuilds a live handle from its persistent form. Node names
// are regenerated so a restore never collides with a live handle.
func restoreESN(rec record.ESN) (*ESN, error) {
	w, err := rec.Reservoir.W.Weights()
	if err != nil {
		return nil, fmt.Errorf("restore %s: recurrent weights: %w", rec.ID, err)
	}
	win, err := rec.Reservoir.Win.Weights()
	if err != nil {
		return nil, fmt.Errorf("restore %s: input weights: %w", rec.ID, err)
	}
	wfb, err := rec.Reservoir.Wfb.Weights()
	if err != nil {
		return nil, fmt.Errorf("restore %s: feedback weights: %w", rec.ID, err)
	}

	resCfg := reservoir.Config{
		Units:        rec.Reservoir.Units,
		LeakRate:     rec.Reservoir.LeakRate,
		Activation:   rec.Reservoir.Activation,
		FbActivation: rec.Reservoir.FbActivation,
		Equation:     reservoir.Equation(rec.Reservoir.Equation),
		NoiseIn:      rec.Reservoir.NoiseIn,
		NoiseRC:      rec.Reservoir.NoiseRC,
		NoiseFb:      rec.Reservoir.NoiseFb,
		Seed:         rec.Reservoir.Seed,
		W:            w,
		Win:          win,
		Wfb:          wfb,
		Bias:         rec.Reservoir.Bias,
	}

	cfg := ESNConfig{
		Name:     rec.Name,
		Units:    rec.Reservoir.Units,
		LeakRate: rec.Reservoir.LeakRate,
		Equation: rec.Reservoir.Equation,
		Ridge:    rec.Readout.Ridge,
		Warmup:   rec.Warmup,
		Feedback: rec.Feedback,
		Seed:     rec.Reservoir.Seed,
	}

	var (
		res     *reservoir.Reservoir
		resNode node.Node
		adapter interface{ Adapt([][]float64, int) error }
	)
	switch {
	case rec.Reservoir.Gains != nil:
		cfg.Plasticity = "ip"
		r, err := reservoir.NewIP("", reservoir.IPConfig{
			Reservoir:    resCfg,
			Mu:           rec.Reservoir.Mu,
			Sigma:        rec.Reservoir.Sigma,
			LearningRate: rec.Reservoir.Eta,
		})
		if err != nil {
			return nil, err
		}
		if err := r.SetGains(rec.Reservoir.Gains, rec.Reservoir.Biases); err != nil {
			r.Close()
			return nil, err
		}
		res, resNode, adapter = r.Reservoir, r, r
	case rec.Reservoir.Rule != "":
		cfg.Plasticity = rec.Reservoir.Rule
		r, err := reservoir.NewLocalPlasticity("", reservoir.LocalConfig{
			Reservoir:            resCfg,
			Rule:                 reservoir.LocalRule(rec.Reservoir.Rule),
			Eta:                  rec.Reservoir.Eta,
			Theta:                rec.Reservoir.Theta,
			SynapseNormalization: rec.Reservoir.SynapseNormalization,
		})
		if err != nil {
			return nil, err
		}
		res, resNode, adapter = r.Reservoir, r, r
	default:
		r, err := reservoir.New("", resCfg)
		if err != nil {
			return nil, err
		}
		res, resNode = r, r
	}

	if rec.InputDim > 0 {
		if err := res.SetInputDim(rec.InputDim); err != nil {
			resNode.Close()
			return nil, err
		}
	}

	out, err := readout.NewRidge("", readout.RidgeConfig{
		Ridge:       rec.Readout.Ridge,
		NoInputBias: rec.Readout.NoInputBias,
		OutputDim:   rec.OutputDim,
	})
	if err != nil {
		resNode.Close()
		return nil, err
	}
	if rec.Readout.Wout != nil {
		wout, err := rec.Readout.Wout.Weights()
		if err != nil {
			resNode.Close()
			out.Close()
			return nil, fmt.Errorf("restore %s: readout weights: %w", rec.ID, err)
		}
		dense, ok := wout.(*tensor.Dense)
		if !ok {
			resNode.Close()
			out.Close()
			return nil, fmt.Errorf("restore %s: readout weights must be dense", rec.ID)
		}
		if err := out.SetWeights(dense, rec.Readout.Bias); err != nil {
			resNode.Close()
			out.Close()
			return nil, err
		}
	}

	model, err := node.Link(resNode, out)
	if err != nil {
		resNode.Close()
		out.Close()
		return nil, err
	}
	if rec.Feedback {
		if err := node.LinkFeedback(resNode, out); err != nil {
			resNode.Close()
			out.Close()
			model.Close()
			return nil, err
		}
	}

	return &ESN{
		id:      rec.ID,
		cfg:     cfg,
		res:     res,
		resNode: resNode,
		adapter: adapter,
		out:     out,
		model:   model,
	}, nil
}
