package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/intake/internal/intakeclient"
)

var downloadDir string

var downloadCmd = &cobra.Command{
	Use:   "download <session-id|url>",
	Short: "Save the markdown brief of a finished intake",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadDir, "output", "o", ".", "directory to write the brief into")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	path, err := saveBrief(ctx, newAPIClient(), args[0], downloadDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
	return nil
}

func saveBrief(ctx context.Context, client *intakeclient.Client, ref, dir string) (string, error) {
	name, body, err := client.Download(ctx, downloadRef(ref))
	if err != nil {
		return "", fmt.Errorf("download %s: %w", ref, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// downloadRef reduces a full download URL to its path so the client resolves
// it against the configured server.
func downloadRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		if u, err := url.Parse(ref); err == nil {
			return u.Path
		}
	}
	return ref
}
