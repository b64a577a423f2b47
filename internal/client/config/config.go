package config

import "time"

// Config holds runtime settings for the upload CLI.
//
// Fields:
//   - ServerEndpointAddr: host:port of the backend gRPC endpoint.
//   - PollInterval: how often progress is polled while following a task.
//   - AccessToken: bearer token sent with every call.
//   - SecretKey, UserID, TokenTTL: when AccessToken is empty, a token for
//     UserID is minted locally with SecretKey (development setups).
//   - DriveID, TargetFolder, TaskName, Priority: defaults for submitted manifests.
//   - FingerprintAlgorithm: must match the server ("md5" or "blake2b").
type Config struct {
	ServerEndpointAddr string
	PollInterval       time.Duration

	AccessToken string
	SecretKey   string
	UserID      string
	TokenTTL    time.Duration

	DriveID              string
	TargetFolder         string
	TaskName             string
	Priority             int
	FingerprintAlgorithm string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.PollInterval = time.Second
	c.TokenTTL = 15 * time.Minute
	c.TargetFolder = "/"
	c.Priority = 5
	c.FingerprintAlgorithm = "md5"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
