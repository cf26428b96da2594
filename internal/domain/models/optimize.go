package models

// Param types of a search space.
const (
	ParamInt         = "int"
	ParamFloat       = "float"
	ParamCategorical = "categorical"
)

// Optimization directions.
const (
	Maximize = "maximize"
	Minimize = "minimize"
)

// Trial states.
const (
	TrialComplete = "complete"
	TrialPruned   = "pruned"
)

// Sampler and pruner names.
const (
	SamplerTPE    = "TPE"
	SamplerRandom = "Random"
	SamplerGrid   = "Grid"

	PrunerHyperband = "Hyperband"
	PrunerMedian    = "Median"
	PrunerNone      = "None"
)

// ParamSpec describes one dimension of a search space.
type ParamSpec struct {
	Type    string        `json:"type"`
	Low     float64       `json:"low,omitempty"`
	High    float64       `json:"high,omitempty"`
	Step    float64       `json:"step,omitempty"`
	Log     bool          `json:"log,omitempty"`
	Choices []interface{} `json:"choices,omitempty"`
}

// SearchSpace maps dotted strategy paths to their dimension.
type SearchSpace map[string]ParamSpec

// Objective is the metric an optimization targets.
type Objective struct {
	Metric    string `json:"metric"`
	Direction string `json:"direction"`
}

// Better reports whether a beats b under direction.
func (o Objective) Better(a, b float64) bool {
	if o.Direction == Minimize {
		return a < b
	}
	return a > b
}

// Params is one sampled assignment keyed by dotted path.
type Params map[string]interface{}

// Trial is one evaluated assignment.
type Trial struct {
	Number       int             `json:"number"`
	State        string          `json:"state"`
	Value        float64         `json:"value"`
	Params       Params          `json:"params"`
	Intermediate map[int]float64 `json:"intermediate,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
}

// HistoryEntry is one line of optimization_history.
type HistoryEntry struct {
	Trial  int     `json:"trial"`
	Value  float64 `json:"value"`
	Params Params  `json:"params"`
	State  string  `json:"state"`
}

// OptimizeStatistics counts trials by state.
type OptimizeStatistics struct {
	TotalTrials     int  `json:"total_trials"`
	CompleteTrials  int  `json:"complete_trials"`
	PrunedTrials    int  `json:"pruned_trials"`
	BestTrialNumber *int `json:"best_trial_number"`
}

// OptimizeReport is the optimizer result document.
type OptimizeReport struct {
	Status              string             `json:"status"`
	StudyName           string             `json:"study_name"`
	NTrials             int                `json:"n_trials"`
	Sampler             string             `json:"sampler"`
	Pruner              string             `json:"pruner"`
	Direction           string             `json:"direction"`
	Metric              string             `json:"metric"`
	BestParams          Params             `json:"best_params"`
	BestValue           *float64           `json:"best_value"`
	OptimizationHistory []HistoryEntry     `json:"optimization_history"`
	ParamImportances    map[string]float64 `json:"param_importances"`
	Statistics          OptimizeStatistics `json:"statistics"`
	Warnings            []string           `json:"warnings,omitempty"`
}

// ContinueReport is the study continuation result document.
type ContinueReport struct {
	Status      string   `json:"status"`
	StudyName   string   `json:"study_name"`
	TrialsAdded int      `json:"trials_added"`
	TotalTrials int      `json:"total_trials"`
	BestValue   *float64 `json:"best_value"`
	Improved    bool     `json:"improved"`
	Message     string   `json:"message"`
}

// TrialEvent is published after every finished trial.
type TrialEvent struct {
	Study     string  `json:"study"`
	Trial     int     `json:"trial"`
	State     string  `json:"state"`
	Value     float64 `json:"value"`
	Params    Params  `json:"params"`
	BestValue float64 `json:"best_value"`
	Metric    string  `json:"metric"`
	Timestamp string  `json:"timestamp"`
}
