package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sqlops/sqlconsole/serv"
)

var credsPassword string

func credsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "creds",
		Short: "Manage SQL login passwords in the OS keychain",
	}

	set := &cobra.Command{
		Use:   "set <user>",
		Short: "Store the password for a SQL login",
		Args:  cobra.ExactArgs(1),
		Run:   cmdCredsSet,
	}
	set.Flags().StringVar(&credsPassword, "password", "", "password, prompted for when empty")

	del := &cobra.Command{
		Use:   "delete <user>",
		Short: "Remove the stored password for a SQL login",
		Args:  cobra.ExactArgs(1),
		Run:   cmdCredsDelete,
	}

	c.AddCommand(set, del)
	return c
}

func cmdCredsSet(cmd *cobra.Command, args []string) {
	kc, err := serv.OpenKeychain()
	if err != nil {
		log.Fatalf("%s", err)
	}

	pw := credsPassword
	if pw == "" {
		if pw, err = pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password for " + args[0]); err != nil {
			log.Fatalf("%s", err)
		}
	}

	if err := kc.SetPassword(args[0], pw); err != nil {
		log.Fatalf("%s", err)
	}
	pterm.Success.Printfln("Stored password for %s. Set auth.keyring: true to use it", args[0])
}

func cmdCredsDelete(cmd *cobra.Command, args []string) {
	kc, err := serv.OpenKeychain()
	if err != nil {
		log.Fatalf("%s", err)
	}
	if err := kc.DeletePassword(args[0]); err != nil {
		log.Fatalf("%s", err)
	}
	pterm.Success.Printfln("Removed password for %s", args[0])
}
