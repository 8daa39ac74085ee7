package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mdouchement/chestsync/internal/database"
	"github.com/mdouchement/chestsync/internal/server/serializer"
	"github.com/mdouchement/chestsync/internal/server/token"
	"github.com/muesli/coral"
	"github.com/pkg/errors"
)

var (
	tokenCmd = &coral.Command{
		Use:   "token",
		Short: "Manage the ingest tokens of structures",
	}

	tokenLabel     string
	tokenCreateCmd = &coral.Command{
		Use:   "create STRUCTURE",
		Short: "Create an ingest token for the structure",
		Args:  coral.ExactArgs(1),
		RunE: func(_ *coral.Command, args []string) error {
			return withTokens(func(m token.Manager) error {
				raw, tk, err := m.Generate(args[0], tokenLabel)
				if err != nil {
					return err
				}

				fmt.Println("Token:", raw)
				fmt.Println("Digest:", tk.ID)
				fmt.Println("The token cannot be displayed again.")
				return nil
			})
		},
	}

	tokenListCmd = &coral.Command{
		Use:   "list STRUCTURE",
		Short: "List the ingest tokens of the structure",
		Args:  coral.ExactArgs(1),
		RunE: func(_ *coral.Command, args []string) error {
			return withTokens(func(m token.Manager) error {
				tokens, err := m.List(args[0])
				if err != nil {
					return err
				}

				renders := make([]map[string]interface{}, len(tokens))
				for i, tk := range tokens {
					renders[i] = serializer.Token(tk)
				}

				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(renders)
			})
		},
	}

	tokenRevokeCmd = &coral.Command{
		Use:   "revoke STRUCTURE DIGEST_PREFIX",
		Short: "Revoke an ingest token of the structure",
		Args:  coral.ExactArgs(2),
		RunE: func(_ *coral.Command, args []string) error {
			return withTokens(func(m token.Manager) error {
				tk, err := m.Revoke(args[0], args[1])
				if err != nil {
					return err
				}

				fmt.Println("Revoked:", tk.ID)
				return nil
			})
		},
	}
)

func init() {
	tokenCreateCmd.Flags().StringVarP(&tokenLabel, "label", "l", "", "Token label")
	tokenCmd.AddCommand(tokenCreateCmd)
	tokenCmd.AddCommand(tokenListCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
}

func withTokens(fn func(m token.Manager) error) error {
	konf, err := config()
	if err != nil {
		return err
	}

	db, err := database.StormOpen(dbnameWithPath(konf.String("database_path")))
	if err != nil {
		return errors.Wrap(err, "could not open database")
	}
	defer db.Close()

	return fn(token.NewManager(db))
}
