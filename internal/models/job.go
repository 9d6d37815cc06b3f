package models

// JobConfig represents the parsed harness configuration
// (patchcheck.yaml or patchcheck.toml).
type JobConfig struct {
	Manifest         string           `yaml:"manifest" toml:"manifest" json:"manifest"`
	Lockfile         string           `yaml:"lockfile,omitempty" toml:"lockfile" json:"lockfile,omitempty"`
	BuildScript      string           `yaml:"build_script" toml:"build_script" json:"build_script"`
	Output           string           `yaml:"output" toml:"output" json:"output"`
	Report           string           `yaml:"report,omitempty" toml:"report" json:"report,omitempty"`
	LogLevel         string           `yaml:"log_level,omitempty" toml:"log_level" json:"log_level,omitempty"`
	LogFormat        string           `yaml:"log_format,omitempty" toml:"log_format" json:"log_format,omitempty"`
	StrictPatchPaths bool             `yaml:"strict_patch_paths" toml:"strict_patch_paths" json:"strict_patch_paths"`
	KeepWorkTree     bool             `yaml:"keep_work_tree" toml:"keep_work_tree" json:"keep_work_tree"`
	ManifestOverlay  []map[string]any `yaml:"manifest_overlay,omitempty" toml:"manifest_overlay" json:"manifest_overlay,omitempty"`
	Fetch            FetchConfig      `yaml:"fetch" toml:"fetch" json:"fetch"`
	Environment      EnvConfig        `yaml:"environment" toml:"environment" json:"environment"`
}

type FetchConfig struct {
	Registry    string `yaml:"registry" toml:"registry" json:"registry"`
	Concurrency int    `yaml:"concurrency" toml:"concurrency" json:"concurrency"`
}

type EnvConfig struct {
	Type           string            `yaml:"type" toml:"type" json:"type"`
	Image          string            `yaml:"image,omitempty" toml:"image" json:"image,omitempty"`
	BuildContext   string            `yaml:"build_context,omitempty" toml:"build_context" json:"build_context,omitempty"`
	Pull           bool              `yaml:"pull" toml:"pull" json:"pull"`
	CPUs           int               `yaml:"cpus" toml:"cpus" json:"cpus"`
	Memory         string            `yaml:"memory,omitempty" toml:"memory" json:"memory,omitempty"`
	Env            map[string]string `yaml:"env,omitempty" toml:"env" json:"env,omitempty"`
	ProviderConfig map[string]any    `yaml:"provider_config,omitempty" toml:"provider_config" json:"provider_config,omitempty"`
}
