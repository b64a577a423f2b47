package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/flagx"
)

// ValueFlags lists the value-taking flags owned by this package, so other
// components can tell flag values from positional arguments.
var ValueFlags = []string{"-a", "-i", "-k", "-s", "-u", "-d", "-f", "-n", "-p", "-alg", "-c", "-config"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port of the backend server
//	-i int      progress poll interval (in seconds)
//	-k string   access token
//	-s string   secret for minting a development token
//	-u string   user id for a minted token
//	-d string   drive id of submitted tasks
//	-f string   target folder of submitted files
//	-n string   task name
//	-p int      task priority (0..10)
//	-alg string fingerprint algorithm
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-i", "-k", "-s", "-u", "-d", "-f", "-n", "-p", "-alg"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	pollInterval := fs.Int("i", int(cfg.PollInterval.Seconds()), "progress poll interval (in seconds)")
	fs.StringVar(&cfg.AccessToken, "k", cfg.AccessToken, "access token")
	fs.StringVar(&cfg.SecretKey, "s", cfg.SecretKey, "token signing secret")
	fs.StringVar(&cfg.UserID, "u", cfg.UserID, "user id")
	fs.StringVar(&cfg.DriveID, "d", cfg.DriveID, "drive id")
	fs.StringVar(&cfg.TargetFolder, "f", cfg.TargetFolder, "target folder")
	fs.StringVar(&cfg.TaskName, "n", cfg.TaskName, "task name")
	fs.IntVar(&cfg.Priority, "p", cfg.Priority, "task priority")
	fs.StringVar(&cfg.FingerprintAlgorithm, "alg", cfg.FingerprintAlgorithm, "fingerprint algorithm")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.PollInterval = time.Duration(*pollInterval) * time.Second
}
