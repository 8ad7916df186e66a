package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/termdeck/internal/appconfig"
	"pkt.systems/termdeck/internal/sshkeys"
	"pkt.systems/termdeck/schema"
)

type connectFlags struct {
	port          int
	user          string
	keyFile       string
	agent         bool
	identity      string
	passwordStdin bool
}

func newConnectCmd(cfgPath *string) *cobra.Command {
	var flags connectFlags
	cmd := &cobra.Command{
		Use:   "connect [user@]host[:port] | name",
		Short: "Open a deck with a shell on the given host or saved connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(*cfgPath)
			if err != nil {
				return err
			}
			conn, err := buildConnection(cfg, args[0], flags)
			if err != nil {
				return err
			}
			conn, err = resolveSecrets(cmd, conn, flags.passwordStdin)
			if err != nil {
				return err
			}
			if cols, rows, ok := terminalSize(); ok {
				conn.Cols, conn.Rows = cols, rows-2
			}
			return runDeck(cmd.Context(), cfg, deckOptions{cfgPath: *cfgPath, initial: []schema.ConnectionConfig{conn}})
		},
	}
	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "remote port")
	cmd.Flags().StringVarP(&flags.user, "user", "l", "", "remote user")
	cmd.Flags().StringVarP(&flags.keyFile, "identity-file", "i", "", "private key file for publickey auth")
	cmd.Flags().BoolVar(&flags.agent, "agent", false, "authenticate with the SSH agent")
	cmd.Flags().StringVar(&flags.identity, "identity", "", "stored identity for identity auth")
	cmd.Flags().BoolVar(&flags.passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

// buildConnection resolves target to a saved connection or parses it as
// [user@]host[:port], then applies flags.
func buildConnection(cfg appconfig.Config, target string, flags connectFlags) (schema.ConnectionConfig, error) {
	conn, saved := cfg.Connection(target)
	if !saved {
		var err error
		conn, err = parseTarget(target)
		if err != nil {
			return schema.ConnectionConfig{}, err
		}
	}
	if flags.user != "" {
		conn.Username = flags.user
	}
	if flags.port != 0 {
		conn.Port = flags.port
	}
	if conn.Username == "" {
		conn.Username = os.Getenv("USER")
	}

	chosen := 0
	for _, set := range []bool{flags.keyFile != "", flags.agent, flags.identity != ""} {
		if set {
			chosen++
		}
	}
	switch {
	case chosen > 1:
		return schema.ConnectionConfig{}, errors.New("choose one of --identity-file, --agent or --identity")
	case flags.keyFile != "":
		conn.Auth, conn.KeyFile = schema.AuthPublicKey, flags.keyFile
	case flags.agent:
		conn.Auth = schema.AuthAgent
	case flags.identity != "":
		conn.Auth, conn.Identity = schema.AuthIdentity, flags.identity
	case !saved && cfg.SSH.DefaultKeyFile != "":
		conn.Auth, conn.KeyFile = schema.AuthPublicKey, cfg.SSH.DefaultKeyFile
	}
	return schema.NormalizeConnectionConfig(conn)
}

func parseTarget(target string) (schema.ConnectionConfig, error) {
	target = strings.TrimSpace(target)
	var conn schema.ConnectionConfig
	if at := strings.LastIndex(target, "@"); at >= 0 {
		conn.Username = target[:at]
		target = target[at+1:]
	}
	host := target
	if strings.HasPrefix(target, "[") || strings.Count(target, ":") == 1 {
		h, p, err := net.SplitHostPort(target)
		if err != nil {
			return schema.ConnectionConfig{}, fmt.Errorf("%w: %v", schema.ErrInvalidConfig, err)
		}
		port, err := strconv.Atoi(p)
		if err != nil {
			return schema.ConnectionConfig{}, fmt.Errorf("%w: port %q", schema.ErrInvalidConfig, p)
		}
		host, conn.Port = h, port
	}
	if host == "" {
		return schema.ConnectionConfig{}, fmt.Errorf("%w: host is required", schema.ErrInvalidConfig)
	}
	conn.Host = host
	return conn, nil
}

// resolveSecrets fills in a missing password or key passphrase, reading
// stdin when asked to or prompting when stdin is a terminal.
func resolveSecrets(cmd *cobra.Command, conn schema.ConnectionConfig, passwordStdin bool) (schema.ConnectionConfig, error) {
	in := cmd.InOrStdin()
	switch conn.Auth {
	case schema.AuthPassword:
		if conn.Password != "" {
			return conn, nil
		}
		if passwordStdin {
			data, err := io.ReadAll(in)
			if err != nil {
				return conn, err
			}
			conn.Password = strings.TrimSpace(string(data))
			if conn.Password == "" {
				return conn, errors.New("password from stdin is empty")
			}
			return conn, nil
		}
		if !isTerminal(in) {
			return conn, errors.New("a password is required: use --password-stdin or a terminal")
		}
		secret, err := keymgmt.PromptPassphrase(in, fmt.Sprintf("%s@%s's password: ", conn.Username, conn.Host), cmd.ErrOrStderr())
		if err != nil {
			return conn, err
		}
		conn.Password = string(secret)
	case schema.AuthPublicKey:
		_, err := sshkeys.LoadSigner(conn.KeyFile, conn.Passphrase)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, sshkeys.ErrPassphraseRequired) || !isTerminal(in) {
			return conn, err
		}
		secret, err := keymgmt.PromptPassphrase(in, fmt.Sprintf("Enter passphrase for %s: ", conn.KeyFile), cmd.ErrOrStderr())
		if err != nil {
			return conn, err
		}
		conn.Passphrase = string(secret)
		if _, err := sshkeys.LoadSigner(conn.KeyFile, conn.Passphrase); err != nil {
			return conn, err
		}
	}
	return conn, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalSize() (cols, rows int, ok bool) {
	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || cols <= 0 || rows <= 2 {
		return 0, 0, false
	}
	return cols, rows, true
}
