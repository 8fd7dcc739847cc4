package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var rename = os.Rename

// moveLocal renames src to dst, copying across filesystems when a rename
// is not possible
func moveLocal(src, dst string) error {
	err := rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// fileSize returns a human-readable size of the local file, or "?" if it cannot be read
func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "?"
	}
	return humanize.Bytes(uint64(info.Size()))
}

// expandPatterns resolves every glob pattern to the matching local files.
// An argument without matches is passed through as is so that the storage
// reports it as missing.
func expandPatterns(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			files = append(files, pattern)
			continue
		}
		files = append(files, matches...)
	}
	return files, nil
}

// PutCmd returns the put command for saving local files into the storage
func PutCmd(open Opener) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "put [file or pattern]...",
		Short: "Save local files into a remote directory",
		Long: `Save local files into a remote directory under generated names.
Arguments may be doublestar patterns such as "reports/**/*.pdf".
The relative path of every stored file is printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := expandPatterns(args)
			if err != nil {
				return err
			}

			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()

			for _, file := range files {
				saved, err := s.SaveFile(file, dir)
				if err != nil {
					return describe(s, fmt.Sprintf("failed to save %s", file), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", file, saved, fileSize(file))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "remote directory relative to the upload location")
	return cmd
}

// GetCmd returns the get command for retrieving a remote file
func GetCmd(open Opener) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get [url]",
		Short: "Retrieve a remote file into the local temp directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()

			tmp, err := s.GetFile(args[0])
			if err != nil {
				return describe(s, fmt.Sprintf("failed to get %s", args[0]), err)
			}

			if output != "" {
				if err := moveLocal(tmp, output); err != nil {
					return fmt.Errorf("file retrieved to %s but could not be moved to %s: %w", tmp, output, err)
				}
				tmp = output
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", tmp, fileSize(tmp))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "move the retrieved file to this local path")
	return cmd
}

// RmCmd returns the rm command for deleting a remote file
func RmCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "rm [url]",
		Short: "Delete a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.DeleteFile(args[0]); err != nil {
				return describe(s, fmt.Sprintf("failed to delete %s", args[0]), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

// MvCmd returns the mv command for moving a remote file into a remote directory
func MvCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "mv [source] [target directory]",
		Short: "Move a remote file into another remote directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()

			moved, err := s.MoveFile(args[0], args[1])
			if err != nil {
				return describe(s, fmt.Sprintf("failed to move %s", args[0]), err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), moved)
			return nil
		},
	}
}
