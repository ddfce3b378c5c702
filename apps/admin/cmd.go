package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/jobs"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errEmptyPassword = errors.New("password cannot be empty")
)

type commandLine struct {
	profiles *profile.Service
	jobs     *jobs.Registry
	migrate  func(command string, args ...string) error
	out      io.Writer
}

// rootCommand builds the admin command tree.
func (cli *commandLine) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Guitar CRM administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(cli.out)
	root.AddCommand(
		cli.addUserCommand(),
		cli.resetPasswordCommand(),
		cli.migrateCommand(),
		cli.runJobCommand(),
	)
	return root
}

func (cli *commandLine) run(args []string) error {
	root := cli.rootCommand()
	root.SetArgs(args)
	return root.Execute()
}

// promptPassword reads a password from the terminal without echoing it.
func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	if len(pwd) == 0 {
		return "", errEmptyPassword
	}
	return string(pwd), nil
}

func (cli *commandLine) runJobCommand() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "runjob NAME",
		Short: "Run a batch job once and print its result",
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return nil
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				for _, job := range cli.jobs.Jobs() {
					fmt.Fprintf(cli.out, "%-28s %s\n", job.Name, job.Schedule)
				}
				return nil
			}
			res, err := cli.jobs.Run(context.Background(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cli.out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list the available jobs")
	return cmd
}
