package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/herald/signature"
)

// errSignatureMismatch is returned by verify so the process exits 1.
var errSignatureMismatch = errors.New("signature mismatch")

func newSignCmd() *cobra.Command {
	var secret, file string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the hex HMAC-SHA256 signature of a payload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("--secret is required")
			}
			body, err := readPayload(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signature.Sign(body, secret))
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "subscription signing secret")
	cmd.Flags().StringVar(&file, "file", "", "payload file (default stdin)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var secret, file, sig string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a payload against a signature header value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" || sig == "" {
				return errors.New("--secret and --signature are required")
			}
			body, err := readPayload(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			if !signature.Verify(body, sig, secret) {
				return errSignatureMismatch
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "subscription signing secret")
	cmd.Flags().StringVar(&sig, "signature", "", "hex signature to check")
	cmd.Flags().StringVar(&file, "file", "", "payload file (default stdin)")
	return cmd
}

// readPayload reads the exact bytes to sign. No trailing newline is trimmed.
func readPayload(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return body, nil
	}
	body, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return body, nil
}
