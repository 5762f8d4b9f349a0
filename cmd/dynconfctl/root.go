package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/skekre98/dynconf/remote"
)

// opTimeout bounds every single remote operation issued by the CLI.
const opTimeout = 10 * time.Second

type rootFlags struct {
	dir       string
	server    string
	namespace string
	group     string
}

// NewRootCommand builds the dynconfctl command tree. dynconfctl is the
// operator surface for the remote configuration service: it publishes,
// fetches and removes entries; it never touches a running manager.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "dynconfctl",
		Short: "Manage entries on the remote configuration service",
		Long: `dynconfctl publishes, fetches and removes versioned configuration
entries on a remote configuration backend.

Backends are selected with --dir (directory-backed, for local
development) or --server (NATS JetStream). Entries are addressed by
namespace, group and data id; running services watching an entry pick
up a publish or remove without a restart.`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.dir, "dir", "", "directory backend root")
	pf.StringVar(&flags.server, "server", "", "NATS server URL (e.g. nats://localhost:4222)")
	pf.StringVar(&flags.namespace, "namespace", "public", "configuration namespace")
	pf.StringVar(&flags.group, "group", "DEFAULT_GROUP", "configuration group")

	rootCmd.AddCommand(newGetCommand(flags))
	rootCmd.AddCommand(newPublishCommand(flags))
	rootCmd.AddCommand(newRemoveCommand(flags))

	return rootCmd
}

// client builds the backend selected by the persistent flags. The
// returned cleanup func releases the connection, if any.
func (f *rootFlags) client() (remote.Client, func(), error) {
	switch {
	case f.dir != "" && f.server != "":
		return nil, nil, errors.New("--dir and --server are mutually exclusive")
	case f.dir != "":
		return remote.NewFileClient(f.dir), func() {}, nil
	case f.server != "":
		nc, err := nats.Connect(f.server)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to %s: %w", f.server, err)
		}
		client, err := remote.NewNATS(nc)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return client, nc.Close, nil
	default:
		return nil, nil, errors.New("select a backend with --dir or --server")
	}
}

func readContent(content, file string) ([]byte, error) {
	switch {
	case content != "" && file != "":
		return nil, errors.New("--content and --file are mutually exclusive")
	case content != "":
		return []byte(content), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, errors.New("provide --content or --file")
	}
}
