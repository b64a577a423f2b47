package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gophupload/internal/flagx"
	"github.com/dmitrijs2005/gophupload/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr   string         `json:"server_endpoint_addr"`
	PollInterval         timex.Duration `json:"poll_interval"`
	AccessToken          string         `json:"access_token"`
	SecretKey            string         `json:"secret_key"`
	UserID               string         `json:"user_id"`
	TokenTTL             timex.Duration `json:"token_ttl"`
	DriveID              string         `json:"drive_id"`
	TargetFolder         string         `json:"target_folder"`
	TaskName             string         `json:"task_name"`
	Priority             *int           `json:"priority"`
	FingerprintAlgorithm string         `json:"fingerprint_algorithm"`
}

// parseJson overlays Config with values loaded from the file named by -c or
// -config. Keys missing from the file keep their current value. Panics on
// read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	for dst, v := range map[*string]string{
		&cfg.ServerEndpointAddr:   jc.ServerEndpointAddr,
		&cfg.AccessToken:          jc.AccessToken,
		&cfg.SecretKey:            jc.SecretKey,
		&cfg.UserID:               jc.UserID,
		&cfg.DriveID:              jc.DriveID,
		&cfg.TargetFolder:         jc.TargetFolder,
		&cfg.TaskName:             jc.TaskName,
		&cfg.FingerprintAlgorithm: jc.FingerprintAlgorithm,
	} {
		if v != "" {
			*dst = v
		}
	}
	if jc.PollInterval.Duration != 0 {
		cfg.PollInterval = jc.PollInterval.Duration
	}
	if jc.TokenTTL.Duration != 0 {
		cfg.TokenTTL = jc.TokenTTL.Duration
	}
	if jc.Priority != nil {
		cfg.Priority = *jc.Priority
	}
}
