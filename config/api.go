package config

// APIConfig configures the HTTP admin API.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Port    string `json:"port"`
	Token   string `json:"token"`
}

// SetDefaults fills missing values.
func (c *APIConfig) SetDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
}
