package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MkdirCmd returns the mkdir command for creating a remote directory
func MkdirCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir [parent]",
		Short: "Create a remote directory with a generated name",
		Long: `Create a remote directory with a generated name inside parent.
Without a parent the directory is created in the upload location itself.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var parent string
			if len(args) > 0 {
				parent = args[0]
			}

			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()

			created, err := s.CreateDirectory(parent)
			if err != nil {
				return describe(s, "failed to create directory", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), created)
			return nil
		},
	}
}

// RmdirCmd returns the rmdir command for deleting a remote directory tree
func RmdirCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir [url]",
		Short: "Delete a remote directory and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.DeleteDirectory(args[0]); err != nil {
				return describe(s, fmt.Sprintf("failed to delete directory %s", args[0]), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

// MvdirCmd returns the mvdir command for moving a remote directory
func MvdirCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "mvdir [source] [target directory]",
		Short: "Move a remote directory into another remote directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()

			moved, err := s.MoveDirectory(args[0], args[1])
			if err != nil {
				return describe(s, fmt.Sprintf("failed to move directory %s", args[0]), err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), moved)
			return nil
		},
	}
}
