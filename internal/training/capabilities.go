package training

import "context"

// TrainRequest is everything a trainer needs for one run.
type TrainRequest struct {
	ModelType   string
	BaseWeights string // weights training starts from
	Manifest    string // dataset manifest path
	Epochs      int
	ProjectDir  string // parent of the run directory
	RunName     string
	WorkDir     string // ProjectDir/RunName, owned by this run only
}

// TrainResult is the output of a successful training.
type TrainResult struct {
	WeightsPath string
}

// Trainer fits a model on a dataset.
type Trainer interface {
	Train(ctx context.Context, req TrainRequest) (*TrainResult, error)
}

// Evaluator scores weights on a dataset. Higher is better.
type Evaluator interface {
	Evaluate(ctx context.Context, weightsPath, manifestPath string) (float64, error)
}
