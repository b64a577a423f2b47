package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/flagx"
)

var serverFlags = []string{
	"-a", "-d", "-s", "-t", "-u", "-p", "-b", "-g", "-e",
	"-storage", "-public-url", "-source-root", "-fingerprint",
	"-chunk-threshold", "-chunk-size", "-inline-hash-threshold",
	"-files", "-chunks", "-retries", "-task-retries", "-op-timeout", "-link-ttl",
	"-cancel-policy", "-notify", "-redis-url", "-kafka-brokers", "-kafka-topic",
}

// parseFlags populates server Config fields from command-line flags.
//
// Short forms kept from the original server:
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-u string   S3 access key
//	-p string   S3 secret key
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// Engine tuning uses long names (-chunk-size, -files, -op-timeout, ...).
// Durations other than -t take Go duration strings.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "p", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.StorageBackend, "storage", config.StorageBackend, "object store backend: s3 or minio")
	fs.StringVar(&config.PublicBaseURL, "public-url", config.PublicBaseURL, "public base URL of stored objects")

	fs.StringVar(&config.SourceRoot, "source-root", config.SourceRoot, "directory local paths are resolved against")
	fs.StringVar(&config.FingerprintAlgorithm, "fingerprint", config.FingerprintAlgorithm, "fingerprint algorithm: md5 or blake2b")
	fs.Int64Var(&config.ChunkThreshold, "chunk-threshold", config.ChunkThreshold, "files of at least this many bytes are chunked")
	fs.Int64Var(&config.ChunkSize, "chunk-size", config.ChunkSize, "chunk size in bytes")
	fs.Int64Var(&config.InlineHashThreshold, "inline-hash-threshold", config.InlineHashThreshold, "files below this size may omit their fingerprint")

	fs.IntVar(&config.MaxConcurrentFiles, "files", config.MaxConcurrentFiles, "concurrent file transfers per task")
	fs.IntVar(&config.MaxInFlightChunks, "chunks", config.MaxInFlightChunks, "in-flight chunks per file")
	fs.IntVar(&config.RetryMaxAttempts, "retries", config.RetryMaxAttempts, "transfer attempts per file")
	fs.IntVar(&config.TaskRetryBudget, "task-retries", config.TaskRetryBudget, "task-level retry rounds")
	fs.DurationVar(&config.OpTimeout, "op-timeout", config.OpTimeout, "timeout of one store operation")
	fs.DurationVar(&config.SignedURLTTL, "link-ttl", config.SignedURLTTL, "default signed URL lifetime")
	fs.StringVar(&config.CancelPolicy, "cancel-policy", config.CancelPolicy, "retain or purge objects of cancelled tasks")

	fs.StringVar(&config.NotifyBackend, "notify", config.NotifyBackend, "event sink: none, redis or kafka")
	fs.StringVar(&config.RedisURL, "redis-url", config.RedisURL, "redis URL")
	fs.StringVar(&config.KafkaBrokers, "kafka-brokers", config.KafkaBrokers, "comma separated kafka brokers")
	fs.StringVar(&config.KafkaTopic, "kafka-topic", config.KafkaTopic, "kafka topic")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
}
