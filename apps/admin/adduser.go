package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func (cli *commandLine) addUserCommand() *cobra.Command {
	var email, username string
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create or update an active admin; the password is prompted",
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, err := cli.promptPassword()
			if err != nil {
				return err
			}
			return cli.addUser(email, username, pwd)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "the admin's email")
	cmd.Flags().StringVar(&username, "username", "", "the admin's username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (cli *commandLine) addUser(email, username, pwd string) error {
	p, err := cli.profiles.UpsertAdmin(context.Background(), email, username, pwd)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "admin %s (%s) saved\n", p.Email, p.ID)
	return nil
}
