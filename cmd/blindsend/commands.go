package main

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/blindsend/blindsend/internal/session"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Open an exchange and print a link for the sender",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		password, err := readPassword("Choose a password: ", true)
		if err != nil {
			return err
		}
		raw, err := session.NewReceiverSession(e.client, e.sessionOptions()...).Open(cmd.Context(), password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Send this link to the sender, keep the password to yourself:")
		fmt.Fprintln(cmd.OutOrStdout(), raw)
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <link> <file>",
	Short: "Encrypt and upload a file to a link opened with 'request'",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		name, data, err := readInput(args[1])
		if err != nil {
			return err
		}
		e.log.WithFile(name, int64(len(data))).Debug("input read")
		s := session.NewReceiverSession(e.client, e.sessionOptions()...)
		if err := s.Upload(cmd.Context(), args[0], name, data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Uploaded %s (%s)\n", name, units.BytesSize(float64(len(data))))
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <link> <dir>",
	Short: "Download and decrypt a file sent to your 'request' link",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		password, err := readPassword("Password: ", false)
		if err != nil {
			return err
		}
		f, err := session.NewReceiverSession(e.client, e.sessionOptions()...).Download(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}
		path, err := writeOutput(args[1], f, force)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s (%s)\n", path, units.BytesSize(float64(f.Size)))
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <file>",
	Short: "Encrypt and upload a file, then print a link for the receiver",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		name, data, err := readInput(args[0])
		if err != nil {
			return err
		}
		e.log.WithFile(name, int64(len(data))).Debug("input read")
		password, err := readPassword("Optional password (empty for none): ", true)
		if err != nil {
			return err
		}
		raw, err := session.NewSenderSession(e.client, e.sessionOptions()...).Send(cmd.Context(), password, name, data)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Send this link to the receiver:")
		fmt.Fprintln(cmd.OutOrStdout(), raw)
		return nil
	},
}

var receiveCmd = &cobra.Command{
	Use:   "receive <link> <dir>",
	Short: "Download and decrypt a file from a 'send' link",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		password, err := readPassword("Password (empty if none): ", false)
		if err != nil {
			return err
		}
		f, err := session.NewSenderSession(e.client, e.sessionOptions()...).Receive(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}
		path, err := writeOutput(args[1], f, force)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s (%s)\n", path, units.BytesSize(float64(f.Size)))
		return nil
	},
}

func init() {
	downloadCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	receiveCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
}
