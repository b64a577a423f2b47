package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/flagx"
	"github.com/dmitrijs2005/gophupload/internal/timex"
)

// JsonConfig is the DTO read from the JSON config file. Interval fields use
// timex.Duration so both "1s" and integer nanoseconds are accepted. Fields
// left out of the file keep their current value.
type JsonConfig struct {
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`

	StorageBackend string `json:"storage_backend"`
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	PublicBaseURL  string `json:"public_base_url"`

	SourceRoot           string `json:"source_root"`
	FingerprintAlgorithm string `json:"fingerprint_algorithm"`
	ChunkThreshold       int64  `json:"chunk_threshold"`
	ChunkSize            int64  `json:"chunk_size"`
	InlineHashThreshold  int64  `json:"inline_hash_threshold"`
	MaxManifestFiles     int    `json:"max_manifest_files"`

	MaxConcurrentFiles int            `json:"max_concurrent_files"`
	MaxInFlightChunks  int            `json:"max_in_flight_chunks"`
	RetryMaxAttempts   int            `json:"retry_max_attempts"`
	RetryBaseDelay     timex.Duration `json:"retry_base_delay"`
	RetryMaxDelay      timex.Duration `json:"retry_max_delay"`
	TaskRetryBudget    *int           `json:"task_retry_budget"`
	OpTimeout          timex.Duration `json:"op_timeout"`
	SignedURLTTL       timex.Duration `json:"signed_url_ttl"`
	CancelPolicy       string         `json:"cancel_policy"`

	NotifyBackend string `json:"notify_backend"`
	NotifyBuffer  int    `json:"notify_buffer"`
	RedisURL      string `json:"redis_url"`
	KafkaBrokers  string `json:"kafka_brokers"`
	KafkaTopic    string `json:"kafka_topic"`
}

// parseJson overlays the JSON file named by -c/-config onto config. If the
// file cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)

	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.PublicBaseURL, c.PublicBaseURL)

	setString(&config.SourceRoot, c.SourceRoot)
	setString(&config.FingerprintAlgorithm, c.FingerprintAlgorithm)
	setInt(&config.ChunkThreshold, c.ChunkThreshold)
	setInt(&config.ChunkSize, c.ChunkSize)
	setInt(&config.InlineHashThreshold, c.InlineHashThreshold)
	setInt(&config.MaxManifestFiles, c.MaxManifestFiles)

	setInt(&config.MaxConcurrentFiles, c.MaxConcurrentFiles)
	setInt(&config.MaxInFlightChunks, c.MaxInFlightChunks)
	setInt(&config.RetryMaxAttempts, c.RetryMaxAttempts)
	setDuration(&config.RetryBaseDelay, c.RetryBaseDelay)
	setDuration(&config.RetryMaxDelay, c.RetryMaxDelay)
	if c.TaskRetryBudget != nil {
		config.TaskRetryBudget = *c.TaskRetryBudget
	}
	setDuration(&config.OpTimeout, c.OpTimeout)
	setDuration(&config.SignedURLTTL, c.SignedURLTTL)
	setString(&config.CancelPolicy, c.CancelPolicy)

	setString(&config.NotifyBackend, c.NotifyBackend)
	setInt(&config.NotifyBuffer, c.NotifyBuffer)
	setString(&config.RedisURL, c.RedisURL)
	setString(&config.KafkaBrokers, c.KafkaBrokers)
	setString(&config.KafkaTopic, c.KafkaTopic)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt[T int | int64](dst *T, v T) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
