package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"peripheral/internal/auth"
)

var (
	tokenName      string
	tokenDigestOut bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage access tokens",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new bearer token",
	Long: `Generate a random bearer token and print a [[tokens]] entry for the
tokens file. With --digest the entry stores only the token's digest, so the
file never holds the secret itself.

Examples:
  peripheral token generate --name analyst >> tokens.toml
  peripheral token generate --name ci --digest`,
	RunE: runTokenGenerate,
}

func init() {
	tokenGenerateCmd.Flags().StringVar(&tokenName, "name", "", "Client id recorded for this token")
	tokenGenerateCmd.Flags().BoolVar(&tokenDigestOut, "digest", false, "Store the digest instead of the token")

	tokenCmd.AddCommand(tokenGenerateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenGenerate(cmd *cobra.Command, args []string) error {
	token, err := auth.GenerateToken()
	if err != nil {
		return err
	}

	entry := auth.TokenEntry{Name: tokenName}
	if tokenDigestOut {
		entry.Digest = auth.DigestToken(token).String()
	} else {
		entry.Token = token
	}

	// Only the TOML entry goes to stdout so it can be appended to a tokens file.
	if tokenDigestOut {
		fmt.Fprintf(os.Stderr, "token:  %s\n", token)
	} else {
		fmt.Fprintf(os.Stderr, "digest: %s\n", auth.DigestToken(token))
	}
	return toml.NewEncoder(os.Stdout).Encode(auth.TokensFile{Tokens: []auth.TokenEntry{entry}})
}
