package node

import (
	"fmt"

	"echoflow/internal/tensor"
)

// TrainOptions tunes Model.Train. The zero value trains every step with
// teacher forcing on.
type TrainOptions struct {
	// DisableTeacherForcing makes feedback receivers observe the live
	// states of trainable senders instead of the ground truth signal.
	DisableTeacherForcing bool
	// LearnEvery applies the online rule every n-th step (default 1).
	LearnEvery int
}

// Train runs the model forward one timestep at a time, applying every
// online learning rule after its node's call. With teacher forcing
// (default), feedback receivers see the previous step's ground truth for
// trainable senders rather than the sender's own imperfect state.
// Returns the exit states produced at every step.
func (m *Model) Train(xs, ys [][]float64, opts ...TrainOptions) ([][]float64, error) {
	var opt TrainOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.LearnEvery <= 0 {
		opt.LearnEvery = 1
	}
	if len(xs) == 0 {
		return nil, nil
	}
	if ys != nil && len(ys) != len(xs) {
		return nil, fmt.Errorf("%s: target sequence length %d disagrees with input length %d", m.name, len(ys), len(xs))
	}

	if !m.initialized {
		var y0 []float64
		if ys != nil {
			y0 = ys[0]
		}
		if err := m.Initialize(xs[0], y0); err != nil {
			return nil, err
		}
	}

	forcedSenders := m.trainableFeedbackSenders()
	states := make([][]float64, len(xs))

	for t := range xs {
		external, err := m.splitAcross(m.entries, xs[t], "input")
		if err != nil {
			return nil, err
		}

		var forced map[string][]float64
		if ys != nil && !opt.DisableTeacherForcing && len(forcedSenders) > 0 {
			forced = make(map[string][]float64, len(forcedSenders))
			for _, sender := range forcedSenders {
				if t == 0 {
					forced[sender.Name()] = tensor.Zeros(sender.OutputDim())
					continue
				}
				chunk, err := m.targetChunk(sender, ys[t-1])
				if err != nil {
					return nil, err
				}
				forced[sender.Name()] = chunk
			}
		}

		if err := m.trainStep(external, forced, ys, t, opt.LearnEvery); err != nil {
			return nil, fmt.Errorf("%s: step %d: %w", m.name, t, err)
		}
		states[t] = m.State()
	}
	return states, nil
}

// trainStep is one forward pass plus online updates.
func (m *Model) trainStep(external, forced map[string][]float64, ys [][]float64, t, learnEvery int) error {
	unpin := m.pinAll()
	defer unpin()

	for name, v := range forced {
		n, ok := m.Node(name)
		if !ok {
			continue
		}
		if err := n.PinProxy(v); err != nil {
			return err
		}
	}

	for _, n := range m.nodes {
		x, err := m.dispatcher.InputFor(n, external)
		if err != nil {
			return err
		}
		if _, err := n.Call(x); err != nil {
			return err
		}
		trainer, ok := n.(OnlineTrainer)
		if !ok || t%learnEvery != 0 {
			continue
		}
		var yn []float64
		if ys != nil && m.isExit(n) {
			yn, err = m.targetChunk(n, ys[t])
			if err != nil {
				return err
			}
		}
		if err := trainer.Train(x, yn); err != nil {
			return err
		}
	}
	m.fbFlag = !m.fbFlag
	return nil
}

// trainableFeedbackSenders lists member exit nodes that both carry a
// learning rule and feed some member's feedback connection: the nodes
// whose proxies teacher forcing overrides.
func (m *Model) trainableFeedbackSenders() []Node {
	senderNames := make(map[string]bool)
	for _, n := range m.nodes {
		recv, ok := n.(FeedbackReceiver)
		if !ok || recv.FeedbackBinding() == nil {
			continue
		}
		senderNames[recv.FeedbackBinding().Sender().Name()] = true
	}

	var out []Node
	for _, n := range m.exits {
		if !senderNames[n.Name()] {
			continue
		}
		if _, on := n.(OnlineTrainer); on {
			out = append(out, n)
			continue
		}
		if _, off := n.(OfflineTrainer); off {
			out = append(out, n)
		}
	}
	return out
}

// targetChunk slices a flat model-level target vector down to one exit
// node's share.
func (m *Model) targetChunk(n Node, y []float64) ([]float64, error) {
	chunks, err := m.splitAcross(m.exits, y, "output")
	if err != nil {
		return nil, err
	}
	chunk, ok := chunks[n.Name()]
	if !ok {
		return nil, fmt.Errorf("%s: no target share for node %s", m.name, n.Name())
	}
	return chunk, nil
}

// Fit trains every offline learner in the graph. The graph is cut into
// topologically ordered subgraphs at offline-trainable boundaries: each
// boundary node must observe all upstream state over the whole sequence
// before its closed-form update runs, and its children must observe its
// fitted output. warmup leading timesteps are discarded from the
// regression statistics.
func (m *Model) Fit(xs, ys [][]float64, warmup int) error {
	hasOffline := false
	for _, n := range m.nodes {
		if _, ok := n.(OfflineTrainer); ok {
			hasOffline = true
			break
		}
	}
	if !hasOffline {
		return fmt.Errorf("%s: %w: no offline learner in graph", m.name, ErrNotTrainable)
	}
	if len(xs) == 0 {
		return fmt.Errorf("%s: %w", m.name, ErrMissingInput)
	}
	if warmup >= len(xs) {
		return fmt.Errorf("%s: warmup %d not smaller than sequence length %d", m.name, warmup, len(xs))
	}

	if !m.initialized {
		var y0 []float64
		if ys != nil {
			y0 = ys[0]
		}
		if err := m.Initialize(xs[0], y0); err != nil {
			return err
		}
	}

	parents, _ := parentsAndChildren(m.edges)
	computed := make(map[string][][]float64, len(m.nodes))

	for _, group := range OfflineSubgraphs(m.nodes) {
		var boundary OfflineTrainer
		members := group
		if off, ok := group[len(group)-1].(OfflineTrainer); ok {
			boundary = off
			members = group[:len(group)-1]
		}

		// Forward pass over the sequence for the static members of this
		// subgraph.
		for t := range xs {
			restore, err := m.pinFitContext(computed, ys, t)
			if err != nil {
				return err
			}
			for _, n := range members {
				x, err := m.fitInput(n, parents, computed, xs, t)
				if err != nil {
					restore()
					return err
				}
				if _, err := n.Call(x); err != nil {
					restore()
					return fmt.Errorf("%s: step %d: %w", m.name, t, err)
				}
				computed[n.Name()] = append(computed[n.Name()], n.State())
			}
			restore()
		}

		if boundary == nil {
			continue
		}

		// Gather the boundary node's full input sequence, fit, then
		// produce its outputs for downstream subgraphs.
		u := make([][]float64, len(xs))
		for t := range xs {
			x, err := m.fitInput(boundary, parents, computed, xs, t)
			if err != nil {
				return err
			}
			u[t] = x
		}
		var yb [][]float64
		if ys != nil && m.isExit(boundary) {
			yb = make([][]float64, len(ys))
			for t := range ys {
				chunk, err := m.targetChunk(boundary, ys[t])
				if err != nil {
					return err
				}
				yb[t] = chunk
			}
		}
		if err := boundary.PartialFit(u, yb, warmup); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
		if err := boundary.Fit(); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
		for t := range u {
			restore, err := m.pinFitContext(computed, ys, t)
			if err != nil {
				return err
			}
			if _, err := boundary.Call(u[t]); err != nil {
				restore()
				return fmt.Errorf("%s: step %d: %w", m.name, t, err)
			}
			computed[boundary.Name()] = append(computed[boundary.Name()], boundary.State())
			restore()
		}
	}
	return nil
}

// pinFitContext freezes the feedback context for one offline-fit
// timestep: live pre-step states for nodes advancing in this pass,
// already-computed step t-1 outputs for earlier subgraphs, and ground
// truth for trainable senders not yet computed (teacher forcing).
func (m *Model) pinFitContext(computed map[string][][]float64, ys [][]float64, t int) (func(), error) {
	unpin := m.pinAll()

	for _, n := range m.nodes {
		recv, ok := n.(FeedbackReceiver)
		if !ok || recv.FeedbackBinding() == nil {
			continue
		}
		sender := recv.FeedbackBinding().Sender()
		member, ok := m.Node(sender.Name())
		if !ok {
			continue
		}
		if seq, done := computed[sender.Name()]; done && len(seq) > t {
			// Sender belongs to an earlier subgraph; replay its history.
			var v []float64
			if t == 0 {
				v = tensor.Zeros(member.OutputDim())
			} else {
				v = seq[t-1]
			}
			if err := member.PinProxy(v); err != nil {
				unpin()
				return nil, err
			}
			continue
		}
		if _, off := member.(OfflineTrainer); off && ys != nil && m.isExit(member) {
			var v []float64
			if t == 0 {
				v = tensor.Zeros(member.OutputDim())
			} else {
				var err error
				v, err = m.targetChunk(member, ys[t-1])
				if err != nil {
					unpin()
					return nil, err
				}
			}
			if err := member.PinProxy(v); err != nil {
				unpin()
				return nil, err
			}
		}
	}
	return unpin, nil
}

// fitInput resolves a node's input at step t during offline fitting from
// the recorded upstream sequences.
func (m *Model) fitInput(n Node, parents map[string][]Node, computed map[string][][]float64, xs [][]float64, t int) ([]float64, error) {
	ps := parents[n.Name()]
	if len(ps) == 0 {
		external, err := m.splitAcross(m.entries, xs[t], "input")
		if err != nil {
			return nil, err
		}
		x, ok := external[n.Name()]
		if !ok {
			return nil, fmt.Errorf("%s: %w: this entry node requires data to run", n.Name(), ErrMissingInput)
		}
		return x, nil
	}
	parts := make([][]float64, len(ps))
	for i, p := range ps {
		seq, ok := computed[p.Name()]
		if !ok || len(seq) <= t {
			return nil, fmt.Errorf("%s: upstream node %s has no recorded output for step %d", m.name, p.Name(), t)
		}
		parts[i] = seq[t]
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return tensor.Concat(parts...), nil
}
