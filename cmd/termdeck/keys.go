package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/internal/appconfig"
	"pkt.systems/termdeck/internal/sshagent"
	"pkt.systems/termdeck/internal/sshkeys"
)

const agentSocketName = "agent.sock"

func newKeysCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored client identities",
	}
	cmd.AddCommand(newKeysGenerateCmd(cfgPath, false))
	cmd.AddCommand(newKeysGenerateCmd(cfgPath, true))
	cmd.AddCommand(newKeysListCmd(cfgPath))
	cmd.AddCommand(newKeysShowCmd(cfgPath))
	cmd.AddCommand(newKeysRemoveCmd(cfgPath))
	cmd.AddCommand(newKeysAgentCmd(cfgPath))
	return cmd
}

func openIdentityStore(cmd *cobra.Command, cfgPath string) (*sshkeys.Store, appconfig.Config, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return nil, appconfig.Config{}, err
	}
	store, err := sshkeys.NewStore(cfg.SSH.IdentityBundle, cfg.SSH.IdentityDir, pslog.Ctx(cmd.Context()))
	if err != nil {
		return nil, appconfig.Config{}, err
	}
	return store, cfg, nil
}

func newKeysGenerateCmd(cfgPath *string, rotate bool) *cobra.Command {
	var keyType string
	var bits int
	use, short := "generate NAME", "Generate a new identity and print its public key"
	if rotate {
		use, short = "rotate NAME", "Replace an identity's key pair and print the new public key"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openIdentityStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			var pub string
			if rotate {
				pub, err = store.Rotate(args[0], keyType, bits)
			} else {
				pub, err = store.Generate(args[0], keyType, bits)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), pub)
			return err
		},
	}
	cmd.Flags().StringVarP(&keyType, "type", "t", sshkeys.KeyTypeEd25519, "key type (ed25519 or rsa)")
	cmd.Flags().IntVarP(&bits, "bits", "b", 0, "RSA key size in bits")
	return cmd
}

func newKeysListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openIdentityStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			names, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range names {
				_, _ = fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}

func newKeysShowCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print an identity's public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openIdentityStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			pub, err := store.PublicKey(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), pub)
			return err
		},
	}
}

func newKeysRemoveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Delete a stored identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openIdentityStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			return store.Remove(args[0])
		},
	}
}

func newKeysAgentCmd(cfgPath *string) *cobra.Command {
	var socket string
	cmd := &cobra.Command{
		Use:   "agent [NAME...]",
		Short: "Serve stored identities over an SSH agent socket until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openIdentityStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				if names, err = store.List(); err != nil {
					return err
				}
			}
			keys := make([]sshagent.Key, 0, len(names))
			for _, name := range names {
				priv, err := store.PrivateKey(name)
				if err != nil {
					return err
				}
				keys = append(keys, sshagent.Key{PrivateKey: priv, Comment: "termdeck:" + name})
			}
			if socket == "" {
				socket = filepath.Join(cfg.StateDir, agentSocketName)
			}
			logger := pslog.Ctx(cmd.Context())
			srv, err := sshagent.Serve(socket, keys, logger)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "SSH_AUTH_SOCK=%s; export SSH_AUTH_SOCK;\n", srv.Socket())
			logger.Info("identity agent serving", "socket", srv.Socket(), "keys", len(keys))
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVarP(&socket, "socket", "s", "", "agent socket path (default <state_dir>/agent.sock)")
	return cmd
}
