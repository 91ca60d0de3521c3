package models

type Script struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tools       []string `json:"tools"`
}

type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Install     string `json:"install"`
	Docs        string `json:"docs"`
}

// Secret describes a credential slot; the value itself never leaves the backend.
type Secret struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
	EnvVar      string `json:"env_var"`
	Configured  bool   `json:"configured"`
	MaskedValue string `json:"masked_value"`
}

type SecretList struct {
	Secrets         []Secret `json:"secrets"`
	TotalConfigured int      `json:"total_configured"`
}

type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Name    string `json:"name"`
}
