// Package config loads runtime configuration for the upload CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # JSON schema
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "poll_interval": "1s",
//	  "access_token": "...",
//	  "drive_id": "6f1c...",
//	  "target_folder": "/photos",
//	  "priority": 5
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
