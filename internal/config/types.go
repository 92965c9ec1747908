package config

import "time"

// Config is the top-level rabbitloop configuration. It is populated once at
// startup by Load and passed down explicitly; nothing reads raw JSON later.
type Config struct {
	Bot       BotConfig       `json:"bot"`
	Loop      LoopConfig      `json:"loop"`
	RateLimit RateLimitConfig `json:"ratelimit"`
	GitHub    GitHubConfig    `json:"github"`
	Timeouts  TimeoutsConfig  `json:"timeouts"`
	Tracker   TrackerConfig   `json:"tracker"`
	Conflict  ConflictConfig  `json:"conflict"`
	Store     StoreConfig     `json:"store"`
	Signal    SignalConfig    `json:"signal"`
}

// BotConfig identifies the review bot.
type BotConfig struct {
	// Logins are the author aliases the review bot posts under.
	Logins []string `json:"logins"`
}

// LoopConfig controls the polling loop.
type LoopConfig struct {
	// MaxIterations escalates to human review once reached.
	MaxIterations int `json:"max_iterations"`
	// PollInterval is the wait between iterations.
	PollInterval string `json:"poll_interval"`
	// LookbackWindow bounds which bot comments count as recent for
	// response classification.
	LookbackWindow string `json:"lookback_window"`
	// SessionDir holds per-PR loop session documents, relative to the repo root.
	SessionDir string `json:"session_dir"`
}

// ParsePollInterval returns the poll interval as a time.Duration.
func (l LoopConfig) ParsePollInterval() time.Duration {
	return parseDuration(l.PollInterval, 60*time.Second)
}

// ParseLookbackWindow returns the lookback window as a time.Duration.
func (l LoopConfig) ParseLookbackWindow() time.Duration {
	return parseDuration(l.LookbackWindow, 15*time.Minute)
}

// RateLimitConfig holds the remaining-call floors below which the loop stops.
type RateLimitConfig struct {
	MinCoreRemaining    int `json:"min_core_remaining"`
	MinGraphQLRemaining int `json:"min_graphql_remaining"`
	// RequestsPerSecond paces outgoing API calls client-side.
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// GitHubConfig holds API access settings.
type GitHubConfig struct {
	Token string `json:"token,omitempty"`
	// Owner and Repo override detection from the origin remote.
	Owner string `json:"owner,omitempty"`
	Repo  string `json:"repo,omitempty"`
	// PageSize is the per-request page size for paginated queries.
	PageSize int `json:"page_size"`
	// MaxPages caps pagination per query to bound latency and API usage.
	MaxPages int `json:"max_pages"`
	// RetryAttempts applies to read-only calls only.
	RetryAttempts int `json:"retry_attempts"`
}

// TimeoutsConfig bounds every external call.
type TimeoutsConfig struct {
	API string `json:"api"`
	Git string `json:"git"`
}

// ParseAPI returns the API call timeout.
func (t TimeoutsConfig) ParseAPI() time.Duration {
	return parseDuration(t.API, 30*time.Second)
}

// ParseGit returns the git command timeout.
func (t TimeoutsConfig) ParseGit() time.Duration {
	return parseDuration(t.Git, 2*time.Minute)
}

// TrackerConfig controls the comment pattern tracker.
type TrackerConfig struct {
	// MaxFindings caps the retained finding log; oldest entries are evicted.
	MaxFindings int `json:"max_findings"`
	// AnalysisInterval is the PR count after which analysis is due.
	AnalysisInterval int `json:"analysis_interval"`
	// MinRepeat is the occurrence count a rule or file needs before a
	// suggestion is emitted.
	MinRepeat int `json:"min_repeat"`
	// File is the tracker document name at the repository root.
	File string `json:"file"`
}

// ConflictConfig controls the conflict resolver.
type ConflictConfig struct {
	Remote string `json:"remote"`
	// LockFiles are exact filenames resolved by taking the current branch's
	// version and regenerating afterward.
	LockFiles []string `json:"lock_files"`
}

// StoreBackend selects where persisted documents live.
type StoreBackend string

const (
	StoreFile   StoreBackend = "file"
	StoreSQLite StoreBackend = "sqlite"
	StoreMemory StoreBackend = "memory"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend StoreBackend `json:"backend"`
	// SQLitePath is relative to the repository root.
	SQLitePath string `json:"sqlite_path"`
	// BranchFile is the ownership registry name at the repository root.
	BranchFile string `json:"branch_file"`
}

// SignalConfig defines the human exit-signal command.
type SignalConfig struct {
	Token string `json:"token"`
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// DefaultConfig returns a Config with documented defaults.
func DefaultConfig() Config {
	return Config{
		Bot: BotConfig{
			Logins: []string{"coderabbitai", "coderabbitai[bot]", "coderabbit[bot]"},
		},
		Loop: LoopConfig{
			MaxIterations:  10,
			PollInterval:   "60s",
			LookbackWindow: "15m",
			SessionDir:     ".rabbitloop/sessions",
		},
		RateLimit: RateLimitConfig{
			MinCoreRemaining:    100,
			MinGraphQLRemaining: 100,
			RequestsPerSecond:   5,
		},
		GitHub: GitHubConfig{
			PageSize:      100,
			MaxPages:      10,
			RetryAttempts: 3,
		},
		Timeouts: TimeoutsConfig{
			API: "30s",
			Git: "2m",
		},
		Tracker: TrackerConfig{
			MaxFindings:      500,
			AnalysisInterval: 5,
			MinRepeat:        3,
			File:             ".rabbitloop-tracker.json",
		},
		Conflict: ConflictConfig{
			Remote: "origin",
			LockFiles: []string{
				"package-lock.json",
				"yarn.lock",
				"pnpm-lock.yaml",
				"poetry.lock",
				"Pipfile.lock",
				"uv.lock",
				"Cargo.lock",
				"Gemfile.lock",
				"composer.lock",
				"go.sum",
			},
		},
		Store: StoreConfig{
			Backend:    StoreFile,
			SQLitePath: ".rabbitloop/state.db",
			BranchFile: ".rabbitloop-branches.json",
		},
		Signal: SignalConfig{
			Token: "/rabbitloop",
		},
	}
}
