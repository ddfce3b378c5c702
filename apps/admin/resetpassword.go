package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func (cli *commandLine) resetPasswordCommand() *cobra.Command {
	var login string
	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a profile's password; the password is prompted",
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, err := cli.promptPassword()
			if err != nil {
				return err
			}
			if err = cli.profiles.SetPassword(context.Background(), login, pwd); err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "password of %s reset\n", login)
			return nil
		},
	}
	cmd.Flags().StringVar(&login, "username", "", "the profile's username or email")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
