package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/buildinfo"
	"github.com/dmitrijs2005/gophupload/internal/client/client"
	"github.com/dmitrijs2005/gophupload/internal/client/config"
	"github.com/dmitrijs2005/gophupload/internal/fingerprint"
	"github.com/dmitrijs2005/gophupload/internal/flagx"
	"github.com/dmitrijs2005/gophupload/internal/server/auth"
	"golang.org/x/term"
)

const clientVersion = "1.0.0"

type App struct {
	config *config.Config
	client client.Client
	hasher *fingerprint.Hasher
	out    io.Writer
	tty    bool
}

// NewApp connects to the configured server. A development token is minted
// when no access token is configured but a secret and user id are.
func NewApp(c *config.Config) (*App, error) {
	hasher, err := fingerprint.New(fingerprint.Algorithm(c.FingerprintAlgorithm))
	if err != nil {
		return nil, err
	}

	var mint client.TokenSource
	if c.SecretKey != "" && c.UserID != "" {
		mint = func() (string, error) {
			return auth.GenerateToken(c.UserID, []byte(c.SecretKey), c.TokenTTL)
		}
	}
	if c.AccessToken == "" && mint == nil {
		log.Println("warning: no access token configured (-k, or -s with -u)")
	}

	apiClient, err := client.NewUploadClient(c.ServerEndpointAddr, c.AccessToken, mint)
	if err != nil {
		return nil, err
	}

	return &App{
		config: c,
		client: apiClient,
		hasher: hasher,
		out:    os.Stdout,
		tty:    term.IsTerminal(int(os.Stdout.Fd())),
	}, nil
}

// Run executes the command found in args, or starts the REPL when there is
// none. It returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	defer a.client.Close()

	if len(flagx.Positional(args, allValueFlags(), boolFlags)) == 0 {
		buildinfo.PrintBuildData(a.out)
		a.printf("gophupload client %s (type 'help' for commands)\n", clientVersion)
		runREPL(ctx, a.Execute, bufio.NewScanner(os.Stdin))
		return 0
	}

	if err := a.Execute(ctx, args); err != nil {
		a.printf("error: %v\n", err)
		return 1
	}
	return 0
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) pollInterval() time.Duration {
	if a.config.PollInterval <= 0 {
		return time.Second
	}
	return a.config.PollInterval
}
