package main

import (
	"fmt"
	"log"

	"github.com/mdouchement/chestsync/internal/database"
	"github.com/muesli/coral"
	"github.com/pkg/errors"
)

func main() {
	var format string

	c := &coral.Command{
		Use:   "rmtenant DATABASE STRUCTURE",
		Short: "Remove a structure and all its chests from the database",
		Args:  coral.ExactArgs(2),
		RunE: func(_ *coral.Command, args []string) error {
			//
			//
			if err := database.SetCodec(format); err != nil {
				return err
			}

			fmt.Println("Opening", args[0])
			db, err := database.StormOpen(args[0])
			if err != nil {
				return errors.Wrap(err, "could not open database")
			}
			defer db.Close()

			// Fetch structure
			tenant, err := db.FindTenant(args[1])
			if err != nil {
				if db.IsNotFound(err) {
					fmt.Println("No such structure")
					return nil
				}
				return errors.Wrap(err, "find structure")
			}
			fmt.Printf("Structure found: %s (%d chests, %d items)\n", tenant.ID, tenant.TotalChests, tenant.TotalItems)

			tokens, err := db.FindTokensByTenantID(tenant.ID)
			if err != nil {
				return errors.Wrap(err, "find tokens")
			}

			history, err := db.CountHistory(tenant.ID)
			if err != nil {
				return errors.Wrap(err, "count history")
			}

			// Delete structure
			if err = db.DeleteTenant(tenant.ID); err != nil {
				return errors.Wrap(err, "delete structure")
			}
			fmt.Printf("Structure removed with %d history entries and %d tokens\n", history, len(tokens))

			return nil
		},
	}
	c.Flags().StringVarP(&format, "codec", "", database.CodecMsgpack, "Storage format of the database (msgpack, cbor or binc)")

	if err := c.Execute(); err != nil {
		log.Fatalf("%+v", err)
	}
}
