package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/synesthesie/imagemeta/internal/config"
	"github.com/synesthesie/imagemeta/internal/logger"
	"github.com/synesthesie/imagemeta/internal/metadata"
	jwtpkg "github.com/synesthesie/imagemeta/pkg/jwt"
	"github.com/synesthesie/imagemeta/pkg/validation"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger logs to stderr so stdout stays valid JSON.
func newLogger(cmd *cobra.Command) zerolog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	return logger.New(logger.Config{Level: level, Pretty: true, Output: cmd.ErrOrStderr()})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readDocument(path string) (metadata.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return metadata.CanonicalDocument(m), nil
}

var rootCmd = &cobra.Command{
	Use:          "metactl",
	Short:        "Inspect image metadata offline",
	SilenceUsage: true,
}

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Print the normalized metadata document of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}

		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		tags, _ := cmd.Flags().GetString("tags")

		extraction := metadata.NewExtractor(newLogger(cmd)).Extract(raw)
		doc := metadata.Normalize(extraction.Fields, metadata.UserFields{
			Title:       title,
			Description: description,
			Tags:        validation.SplitTags(tags),
		})
		if extraction.Degraded {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: extraction degraded, some fields may be missing")
		}
		return printJSON(cmd.OutOrStdout(), doc)
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <a.json> <b.json>",
	Short: "Print the delta between two metadata documents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := readDocument(args[0])
		if err != nil {
			return err
		}
		b, err := readDocument(args[1])
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")

		return printJSON(cmd.OutOrStdout(), metadata.Diff(a, b, metadata.DiffOptions{IncludeUnchanged: all}))
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue an access token signed with JWT_SECRET",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		cfg := config.New()

		duration, _ := cmd.Flags().GetDuration("ttl")
		if duration <= 0 {
			duration = cfg.JWTAccessTokenDuration
		}
		token, err := jwtpkg.GenerateToken(args[0], jwtpkg.AccessToken, cfg.JWTSecret, duration)
		if err != nil {
			return fmt.Errorf("generating token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().String("title", "", "Title to set in basic.title")
	extractCmd.Flags().String("description", "", "Description to set in basic.description")
	extractCmd.Flags().String("tags", "", "Comma separated tags")

	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().BoolP("all", "a", false, "Include unchanged values")

	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to JWT_ACCESS_TOKEN_DURATION)")
}
