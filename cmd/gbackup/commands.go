package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/apinprastya/gbackup"
)

var errNoBackupFile = errors.New("no backup file known yet, run signin or backup first")

func newSignInCmd(appOf func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "signin",
		Short: "Sign into Google and look for an existing backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			discovery, err := appOf().service.SignInAndDiscover(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Signed in as %s <%s>\n", discovery.Profile.Name, discovery.Profile.Email)
			if !discovery.HasBackup() {
				fmt.Fprintln(out, "No backup yet")
				return nil
			}
			fmt.Fprintf(out, "Backup found: %s (%d bytes)\n", discovery.FileID, len(discovery.Payload))
			return nil
		},
	}
}

func newSignOutCmd(appOf func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Revoke access and forget the signed in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appOf()
			if err := a.service.SignOut(cmd.Context()); err != nil {
				return err
			}
			if err := gbackup.ClearSession(cmd.Context(), a.store); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoAmICmd(appOf func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appOf()
			profile, err := gbackup.LoadProfile(cmd.Context(), a.store)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if profile == nil {
				fmt.Fprintln(out, "Not signed in")
				return nil
			}
			fmt.Fprintf(out, "Name:  %s\nEmail: %s\n", profile.Name, profile.Email)
			if profile.Photo != "" {
				fmt.Fprintf(out, "Photo: %s\n", profile.Photo)
			}
			fileID, err := gbackup.LoadBackupFileID(cmd.Context(), a.store)
			if err != nil {
				return err
			}
			if fileID != "" {
				fmt.Fprintf(out, "Backup: %s\n", fileID)
			}
			return nil
		},
	}
}

func newRefreshCmd(appOf func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Restore the saved session and refresh its access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := appOf().identity.SignInSilently(cmd.Context())
			if err != nil {
				return &gbackup.Error{Op: "refresh", Notification: gbackup.Classify(err), Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session refreshed for %s <%s>\n", creds.Profile.Name, creds.Profile.Email)
			return nil
		},
	}
}

func newBackupCmd(appOf func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup [file]",
		Short: "Upload a JSON file (or stdin) as the backup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				b   []byte
				err error
			)
			if len(args) == 0 || args[0] == "-" {
				b, err = io.ReadAll(cmd.InOrStdin())
			} else {
				b, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			if !json.Valid(b) {
				return gbackup.ErrMalformedBackup
			}

			a := appOf()
			if err := a.service.Upload(cmd.Context(), json.RawMessage(b)); err != nil {
				return err
			}
			fileID, err := gbackup.LoadBackupFileID(cmd.Context(), a.store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup uploaded: %s\n", fileID)
			return nil
		},
	}
}

func newRestoreCmd(appOf func() *app) *cobra.Command {
	var fileID, output string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Download the backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appOf()
			id := fileID
			if id == "" {
				var err error
				if id, err = gbackup.LoadBackupFileID(cmd.Context(), a.store); err != nil {
					return err
				}
			}
			if id == "" {
				return errNoBackupFile
			}

			payload, err := a.service.Download(cmd.Context(), id)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
				return err
			}
			return os.WriteFile(output, payload, 0o600)
		},
	}
	cmd.Flags().StringVar(&fileID, "file-id", "", "remote file id (default: the last known backup)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the backup to this file instead of stdout")
	return cmd
}
