// Package flagx helps several components share os.Args without
// tripping over each other's flags.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// FilterArgs returns only the allowed flags (and their values) from args.
//
// Supported formats:
//  1. Flag and value as separate arguments:  -c conf.json
//  2. Flag and value combined with '=':      -config=conf.json
//
// Unknown flags and positional arguments are dropped.
func FilterArgs(args []string, allowedFlags []string) []string {
	return FilterArgsWithBools(args, allowedFlags, nil)
}

// FilterArgsWithBools is FilterArgs for flag sets that also contain boolean
// flags. A boolean flag never consumes the following argument, so
// "-wait ./photos" keeps "./photos" out of the filtered slice.
func FilterArgsWithBools(args []string, valueFlags []string, boolFlags []string) []string {
	values := make(map[string]struct{}, len(valueFlags))
	for _, f := range valueFlags {
		values[f] = struct{}{}
	}
	bools := make(map[string]struct{}, len(boolFlags))
	for _, f := range boolFlags {
		bools[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			_, isValue := values[name]
			_, isBool := bools[name]
			if isValue || isBool {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := bools[arg]; ok {
			filtered = append(filtered, arg)
			continue
		}

		if _, ok := values[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// Positional returns the arguments that are neither flags nor flag values,
// using the same rules as FilterArgsWithBools.
func Positional(args []string, valueFlags []string, boolFlags []string) []string {
	values := make(map[string]struct{}, len(valueFlags))
	for _, f := range valueFlags {
		values[f] = struct{}{}
	}
	bools := make(map[string]struct{}, len(boolFlags))
	for _, f := range boolFlags {
		bools[f] = struct{}{}
	}

	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			rest = append(rest, arg)
			continue
		}
		if strings.Contains(arg, "=") {
			continue
		}
		if _, ok := bools[arg]; ok {
			continue
		}
		if _, ok := values[arg]; ok && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
		}
	}
	return rest
}

// JsonConfigFlags extracts the config file path given via -c or -config.
// Other arguments are ignored. Returns "" when neither flag is present.
func JsonConfigFlags() string {
	var config string

	args := FilterArgs(os.Args[1:], []string{"-c", "-config"})

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(args)

	return config
}
