package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Travis-Britz/ddnsd"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage Cloudflare API tokens.",
	}
	cmd.AddCommand(newTokenVerifyCommand())
	return cmd
}

func newTokenVerifyCommand() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that a Cloudflare API token is active.",
		Long: `Check that a Cloudflare API token is active.

The token is read from the terminal without echo, or from stdin when it is not a terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readToken(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := verifyToken(ctx, baseURL, token); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token verified successfully")
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "cloudflare-url", ddns.DefaultCloudflareURL, "Base URL of the Cloudflare API")
	return cmd
}

func readToken(prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("error reading from stdin: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(prompt, "Enter Cloudflare API token: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("error reading from stdin: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func verifyToken(ctx context.Context, baseURL, token string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}
	api, err := cloudflare.NewWithAPIToken(token, cloudflare.BaseURL(baseURL))
	if err != nil {
		return fmt.Errorf("error creating api client: %w", err)
	}
	result, err := api.VerifyAPIToken(ctx)
	if err != nil {
		return fmt.Errorf("unable to verify api token: %w", err)
	}
	if result.Status != "active" {
		return fmt.Errorf("expected api token status to be \"active\"; got %q", result.Status)
	}
	return nil
}
