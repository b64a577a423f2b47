package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "Test1 OK", args: []string{"cmd", "-a", "127.0.0.1:9090", "-i", "10"}, expectPanic: false,
			expected: &Config{ServerEndpointAddr: "127.0.0.1:9090", PollInterval: 10 * time.Second}},
		{name: "Test2 incorrect poll interval", args: []string{"cmd", "-a", "127.0.0.1:9090", "-i", "abc"}, expectPanic: true, expected: &Config{}},
		{name: "Test3 submit flags among positionals", args: []string{"cmd", "submit", "-k", "tok", "-d", "drive",
			"-f", "/photos", "-n", "holiday", "-p", "9", "-alg", "blake2b", "./pics", "-wait"}, expectPanic: false,
			expected: &Config{AccessToken: "tok", DriveID: "drive", TargetFolder: "/photos", TaskName: "holiday", Priority: 9, FingerprintAlgorithm: "blake2b"}},
		{name: "Test4 dev token flags", args: []string{"cmd", "-s", "secret", "-u", "user-1"}, expectPanic: false,
			expected: &Config{SecretKey: "secret", UserID: "user-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)

			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {

				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
