package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/aethra/reportdesk/internal/auth"
	"github.com/aethra/reportdesk/internal/engine"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/spf13/cobra"
)

func (a *app) clientService() *engine.ClientService {
	tenants := engine.NewTenantResolver(a.db)
	tables := engine.NewTableManager(a.db, nil, a.log)
	return engine.NewClientService(a.db, tenants, tables, a.log)
}

func newTenantCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage clients and their tables",
	}

	var in engine.ClientInput
	var domain string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			if domain != "" {
				in.DomainName = &domain
			}
			client, err := a.clientService().Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Printf("Client %q created (uuid %s, prefix %s)\n", client.Name, client.UUID, engine.Prefix(client.Name))
			return nil
		},
	}
	create.Flags().StringVar(&in.FirstName, "first-name", "", "First name (required)")
	create.Flags().StringVar(&in.LastName, "last-name", "", "Last name")
	create.Flags().StringVar(&in.Email, "email", "", "Contact email")
	create.Flags().StringVar(&in.Phone, "phone", "", "Contact phone")
	create.Flags().StringVar(&domain, "domain", "", "Domain name")
	_ = create.MarkFlagRequired("first-name")

	var renameIn engine.ClientInput
	rename := &cobra.Command{
		Use:   "rename <client>",
		Short: "Rename a client and move its tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := a.clientService()
			current, err := svc.View(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renameIn.DomainName = current.DomainName
			client, renamed, err := svc.Update(cmd.Context(), args[0], renameIn)
			if err != nil {
				return err
			}
			if renamed {
				fmt.Printf("Client renamed to %q, tables moved to prefix %s\n", client.Name, engine.Prefix(client.Name))
			} else {
				fmt.Printf("Client renamed to %q, prefix unchanged\n", client.Name)
			}
			return nil
		},
	}
	rename.Flags().StringVar(&renameIn.FirstName, "first-name", "", "New first name (required)")
	rename.Flags().StringVar(&renameIn.LastName, "last-name", "", "New last name")
	_ = rename.MarkFlagRequired("first-name")

	var yes bool
	del := &cobra.Command{
		Use:   "delete <client>",
		Short: "Delete a client, its users and its tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes", args[0])
			}
			out, err := a.clientService().Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d users, %d performance rows, tables: %s\n",
				out.DeletedUsers, out.DeletedPerformances, strings.Join(out.DroppedTables, ", "))
			return nil
		},
	}
	del.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")

	list := &cobra.Command{
		Use:   "list",
		Short: "List clients with their table prefixes",
		RunE: func(cmd *cobra.Command, args []string) error {
			clients, err := a.clientService().List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUUID\tNAME\tPREFIX")
			for _, c := range clients {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ID, c.UUID, c.Name, engine.Prefix(c.Name))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(list, create, rename, del)
	return cmd
}

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var in auth.NewUser
	var client string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if client != "" {
				tenant, err := engine.NewTenantResolver(a.db).Resolve(cmd.Context(), client)
				if err != nil {
					return err
				}
				in.ClientID = &tenant.UUID
			}
			authenticator := auth.NewAuthenticator(a.db, nil, auth.NewGormSessionStore(a.db), nil, a.log)
			user, err := authenticator.CreateUser(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Printf("User %s created with role %s\n", user.Email, user.SystemRole)
			return nil
		},
	}
	create.Flags().StringVar(&in.Email, "email", "", "Email (required)")
	create.Flags().StringVar(&in.Password, "password", "", "Password (required)")
	create.Flags().StringVar(&in.Role, "role", models.RoleAdmin, "Role: admin, client_user or reporting_user")
	create.Flags().StringVar(&client, "client", "", "Client id or uuid; binds the user to that client")
	create.Flags().StringVar(&in.FirstName, "first-name", "", "First name")
	create.Flags().StringVar(&in.LastName, "last-name", "", "Last name")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}
