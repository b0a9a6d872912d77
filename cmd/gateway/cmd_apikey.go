// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"

	"github.com/stellarbyte/stellarserve/services/gateway/config"
	"github.com/stellarbyte/stellarserve/services/gateway/store"
)

var apikeyName string

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage gateway API keys",
	Long: `Create, list, and revoke API keys directly against the
gateway database. The database is locked by a running server; stop it
first, or use the /v1/keys HTTP endpoints instead.`,
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runAPIKeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runAPIKeyList,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

func init() {
	apikeyCreateCmd.Flags().StringVar(&apikeyName, "name", "", "display name for the key")
	_ = apikeyCreateCmd.MarkFlagRequired("name")

	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyListCmd)
	apikeyCmd.AddCommand(apikeyRevokeCmd)
}

func openKeyStore() (*store.APIKeyStore, *badger.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	storeCfg := store.DefaultConfig()
	storeCfg.Path = cfg.Storage.Path
	storeCfg.InMemory = cfg.Storage.InMemory

	db, err := store.Open(storeCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open gateway database (is the server running?): %w", err)
	}
	return store.NewAPIKeyStore(db), db, nil
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	keys, db, err := openKeyStore()
	if err != nil {
		return err
	}
	defer db.Close()

	key, err := keys.Create(context.Background(), apikeyName)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Printf("Created API key %q (id %s)\n", key.Name, key.ID)
	fmt.Printf("Key value (shown only once):\n\n  %s\n", key.Key)
	return nil
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	keys, db, err := openKeyStore()
	if err != nil {
		return err
	}
	defer db.Close()

	listed, err := keys.List(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}
	if len(listed) == 0 {
		fmt.Println("No API keys.")
		return nil
	}

	for _, key := range listed {
		status := "active"
		if !key.IsActive {
			status = "revoked"
		}
		fmt.Printf("%s  %-20s %-8s created %s\n",
			key.ID, key.Name, status, key.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	keys, db, err := openKeyStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := keys.Deactivate(context.Background(), args[0]); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	fmt.Printf("Revoked API key %s\n", args[0])
	return nil
}
