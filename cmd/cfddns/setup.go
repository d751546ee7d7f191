package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Travis-Britz/cfddns"
)

var (
	setupTokenFile string
	setupBaseURL   string

	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "Store a Cloudflare API token in a key file",
		Long: `Prompts for a Cloudflare API token without echoing it, verifies that the token
is active, and writes it to a new key file readable only by the current user.
Point provider_token_file in the settings file at the result.`,
		Args: cobra.NoArgs,
		RunE: runSetup,
	}
)

func init() {
	setupCmd.Flags().StringVarP(&setupTokenFile, "token-file", "k", filepath.Join(os.Getenv("HOME"), ".cloudflare"), "Path of the key file to create")
	setupCmd.Flags().StringVar(&setupBaseURL, "api-base-url", "", "Cloudflare API base URL (default: the public v4 API)")
}

func runSetup(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(setupTokenFile); err == nil {
		return fmt.Errorf("key file \"%s\" already exists", setupTokenFile)
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("setup must be run from an interactive terminal")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Enter Cloudflare API Token: \n")
	bytekey, err := term.ReadPassword(fd)
	if err != nil {
		return fmt.Errorf("error reading from stdin: %w", err)
	}
	key := strings.TrimSpace(string(bytekey))
	if key == "" {
		return errors.New("no token entered")
	}

	cf, err := cfddns.NewCloudflare(key, cfddns.CloudflareBaseURL(setupBaseURL))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	fmt.Fprintln(cmd.OutOrStdout(), "verifying token...")
	if err := cf.VerifyToken(ctx); err != nil {
		return err
	}

	if err := writeKey(setupTokenFile, key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "token written to \"%s\"\n", setupTokenFile)
	return nil
}

// writeKey creates path with mode 0600 and writes key to it. It never overwrites an existing file.
func writeKey(path string, key string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create \"%s\": %w", path, err)
	}
	if _, err := fmt.Fprintln(f, key); err != nil {
		f.Close()
		return fmt.Errorf("unable to write \"%s\": %w", path, err)
	}
	return f.Close()
}
