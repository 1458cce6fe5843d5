// Command dinitctl is the control-socket client: it talks to a running
// dinitd over pkg/dinitclient's binary protocol, the same role cmd/provisr
// played for the teacher's HTTP daemon API (apiClient.StartProcess/
// StopProcess/GetStatus), just over a different wire format.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/dinitgo/internal/auth"
	"github.com/loykin/dinitgo/pkg/dinitclient"
	"github.com/loykin/dinitgo/pkg/template"
)

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(b))
}

func main() {
	var (
		socketPath string
		timeout    time.Duration
	)

	root := &cobra.Command{Use: "dinitctl"}
	root.PersistentFlags().StringVar(&socketPath, "control-socket", "/run/dinitgo/control.sock", "path to dinitd's control socket")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	dial := func() (*dinitclient.Client, error) {
		cl := dinitclient.New(dinitclient.Config{SocketPath: socketPath, Timeout: timeout})
		if err := cl.Connect(); err != nil {
			return nil, fmt.Errorf("dinitctl: connecting to %s: %w", socketPath, err)
		}
		return cl, nil
	}

	cmdVersion := &cobra.Command{
		Use:   "version",
		Short: "Query the daemon's control-protocol version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()
			v, err := cl.QueryVersion()
			if err != nil {
				return err
			}
			fmt.Printf("protocol version %d\n", v)
			return nil
		},
	}

	cmdStatus := &cobra.Command{
		Use:   "status <name>",
		Short: "Show a service's current/target state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()
			st, err := cl.FindService(args[0])
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}

	var pin bool
	cmdStart := &cobra.Command{
		Use:   "start <name>",
		Short: "Start a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()
			st, err := cl.FindService(args[0])
			if err != nil {
				return err
			}
			return cl.StartService(st.Handle, pin)
		},
	}
	cmdStart.Flags().BoolVar(&pin, "pin", false, "pin the service started once it reaches its target state")

	var force bool
	cmdStop := &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()
			st, err := cl.FindService(args[0])
			if err != nil {
				return err
			}
			return cl.StopService(st.Handle, force)
		},
	}
	cmdStop.Flags().BoolVar(&force, "force", false, "set the force flag on the stop request (the daemon does not read it: the service is stopped whether or not other services depend on it)")

	cmdRelease := &cobra.Command{
		Use:   "release <name>",
		Short: "Release a manual hold on a service, letting it stop if nothing else needs it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()
			st, err := cl.FindService(args[0])
			if err != nil {
				return err
			}
			return cl.ReleaseService(st.Handle)
		},
	}

	cmdUnpin := &cobra.Command{
		Use:   "unpin <name>",
		Short: "Remove a pin set by --pin, allowing the service's state to change again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()
			st, err := cl.FindService(args[0])
			if err != nil {
				return err
			}
			return cl.UnpinService(st.Handle)
		},
	}

	var shutdownKind string
	cmdShutdown := &cobra.Command{
		Use:   "shutdown",
		Short: "Request machine-wide shutdown (halt, poweroff, or reboot)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind byte
			switch shutdownKind {
			case "halt":
				kind = 2
			case "poweroff":
				kind = 3
			case "reboot":
				kind = 4
			default:
				return fmt.Errorf("dinitctl: unknown shutdown kind %q (want halt, poweroff, or reboot)", shutdownKind)
			}
			cl, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()
			return cl.Shutdown(kind)
		},
	}
	cmdShutdown.Flags().StringVar(&shutdownKind, "kind", "halt", "halt, poweroff, or reboot")

	var outFile string
	cmdTemplate := &cobra.Command{
		Use:   "template <archetype> <name>",
		Short: "Scaffold a services-directory file for a common archetype (web, api, worker, database, cron, simple)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen := template.NewGenerator()
			out, err := gen.GenerateTOML(template.Archetype(args[0]), args[1])
			if err != nil {
				return err
			}
			if outFile == "" {
				fmt.Print(string(out))
				return nil
			}
			return os.WriteFile(outFile, out, 0o644)
		},
	}
	cmdTemplate.Flags().StringVar(&outFile, "out", "", "write the scaffold to this file instead of stdout")

	var authDBPath string
	cmdAuth := &cobra.Command{
		Use:   "auth",
		Short: "Manage the HTTP API's user/client credential store directly (bypasses dinitd)",
	}
	cmdAuth.PersistentFlags().StringVar(&authDBPath, "db", "/etc/dinitgo/auth.db", "path to the sqlite auth store")

	openAuth := func() (*auth.AuthService, error) {
		return auth.NewAuthService(auth.AuthConfig{Store: auth.StoreConfig{Type: "sqlite", Path: authDBPath}})
	}

	cmdAuthCreateAdmin := &cobra.Command{
		Use:   "create-admin <username> <password>",
		Short: "Create the initial admin user if the store has none yet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openAuth()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			return auth.NewCLIHelper(svc).CreateInitialAdmin(context.Background(), args[0], args[1])
		},
	}

	var clientScopes string
	cmdAuthCreateClient := &cobra.Command{
		Use:   "create-client <name>",
		Short: "Create a client credential (client_id/client_secret) for API access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openAuth()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			var scopes []string
			if clientScopes != "" {
				scopes = strings.Split(clientScopes, ",")
			}
			_, err = auth.NewCLIHelper(svc).CreateAPIClient(context.Background(), args[0], scopes)
			return err
		},
	}
	cmdAuthCreateClient.Flags().StringVar(&clientScopes, "scopes", "operator", "comma-separated scopes granted to the client")

	cmdAuthListUsers := &cobra.Command{
		Use:   "list-users",
		Short: "List users in the auth store",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openAuth()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			return auth.NewCLIHelper(svc).ListUsers(context.Background())
		},
	}

	cmdAuthListClients := &cobra.Command{
		Use:   "list-clients",
		Short: "List client credentials in the auth store",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openAuth()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			return auth.NewCLIHelper(svc).ListClients(context.Background())
		},
	}

	cmdAuthDeleteUser := &cobra.Command{
		Use:   "delete-user <username-or-id>",
		Short: "Delete a user from the auth store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openAuth()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			return auth.NewCLIHelper(svc).DeleteUser(context.Background(), args[0])
		},
	}

	cmdAuthResetPassword := &cobra.Command{
		Use:   "reset-password <username-or-id> <new-password>",
		Short: "Reset a user's password in the auth store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openAuth()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			return auth.NewCLIHelper(svc).ResetUserPassword(context.Background(), args[0], args[1])
		},
	}

	cmdAuth.AddCommand(cmdAuthCreateAdmin, cmdAuthCreateClient, cmdAuthListUsers, cmdAuthListClients, cmdAuthDeleteUser, cmdAuthResetPassword)

	root.AddCommand(cmdVersion, cmdStatus, cmdStart, cmdStop, cmdRelease, cmdUnpin, cmdShutdown, cmdTemplate, cmdAuth)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
