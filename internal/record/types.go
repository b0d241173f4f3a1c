// Package record defines the persistent snapshot of a trained echo state
// network: hyperparameters, weight matrices and readout solution, in a
// versioned JSON-friendly form.
package record

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Matrix is a serializable weight matrix, either dense (Dense set) or
// compressed sparse row (Indptr/Indices/Data set).
type Matrix struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`

	Dense []float64 `json:"dense,omitempty"`

	Indptr  []int     `json:"indptr,omitempty"`
	Indices []int     `json:"indices,omitempty"`
	Data    []float64 `json:"data,omitempty"`
}

// Reservoir snapshots a reservoir node, including the plasticity extras
// when the node carries them.
type Reservoir struct {
	Name           string  `json:"name"`
	Units          int     `json:"units"`
	LeakRate       float64 `json:"leak_rate"`
	SpectralRadius float64 `json:"spectral_radius,omitempty"`
	Activation     string  `json:"activation"`
	FbActivation   string  `json:"fb_activation,omitempty"`
	Equation       string  `json:"equation"`
	NoiseIn        float64 `json:"noise_in,omitempty"`
	NoiseRC        float64 `json:"noise_rc,omitempty"`
	NoiseFb        float64 `json:"noise_fb,omitempty"`
	NoiseDist      string  `json:"noise_dist,omitempty"`
	Seed           int64   `json:"seed"`

	W    *Matrix   `json:"w,omitempty"`
	Win  *Matrix   `json:"win,omitempty"`
	Wfb  *Matrix   `json:"wfb,omitempty"`
	Bias []float64 `json:"bias,omitempty"`

	// Intrinsic plasticity gains and target distribution, set when the
	// node is an adapted IP reservoir.
	Gains  []float64 `json:"gains,omitempty"`
	Biases []float64 `json:"biases,omitempty"`
	Mu     float64   `json:"mu,omitempty"`
	Sigma  float64   `json:"sigma,omitempty"`

	// Local synaptic rule, set when the node adapts its synapses.
	Rule                 string  `json:"rule,omitempty"`
	Eta                  float64 `json:"eta,omitempty"`
	Theta                float64 `json:"theta,omitempty"`
	SynapseNormalization bool    `json:"synapse_normalization,omitempty"`
}

// Readout snapshots a trained output layer.
type Readout struct {
	Name         string    `json:"name"`
	Kind         string    `json:"kind"` // "ridge" or "lms"
	Ridge        float64   `json:"ridge,omitempty"`
	LearningRate float64   `json:"learning_rate,omitempty"`
	NoInputBias  bool      `json:"no_input_bias,omitempty"`
	Wout         *Matrix   `json:"wout,omitempty"`
	Bias         []float64 `json:"bias,omitempty"`
	Fitted       bool      `json:"fitted"`
}

// ESN is the persistent form of a complete echo state network.
type ESN struct {
	VersionedRecord
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	InputDim  int       `json:"input_dim"`
	OutputDim int       `json:"output_dim"`
	Feedback  bool      `json:"feedback"`
	Warmup    int       `json:"warmup"`
	Reservoir Reservoir `json:"reservoir"`
	Readout   Readout   `json:"readout"`
	CreatedAt time.Time `json:"created_at"`
}

// RunSummary records one training or forecasting run against a stored
// network, for bookkeeping and CLI listings.
type RunSummary struct {
	VersionedRecord
	ID        string    `json:"id"`
	ModelID   string    `json:"model_id"`
	Kind      string    `json:"kind"` // "train" or "forecast"
	Steps     int       `json:"steps"`
	MSE       float64   `json:"mse,omitempty"`
	StartedAt time.Time `json:"started_at"`
}
