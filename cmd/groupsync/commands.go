package main

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relves/groupsync/pkg/groupcrypto"
	"github.com/relves/groupsync/pkg/groupsync"
	"github.com/relves/groupsync/pkg/types"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Update every mirrored group once and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.refreshAll(cmd.Context()); err != nil {
			return err
		}

		ids, err := a.store.ListGroups(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			group, err := a.store.LoadGroup(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", id, revisionString(group.Revision), group.Name)
		}
		return nil
	},
}

var addGroupCmd = &cobra.Command{
	Use:   "add-group <master-key>",
	Short: "Start mirroring a group from its base64 master key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		masterKey, err := base64.StdEncoding.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("master key must be base64: %w", err)
		}
		fields, err := groupcrypto.DeriveGroupFields(masterKey)
		if err != nil {
			return err
		}

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if err := a.store.AddGroup(ctx, &types.GroupAttributes{
			ID:           fields.ID,
			SecretParams: fields.SecretParams,
			PublicParams: fields.PublicParams,
		}); err != nil {
			return fmt.Errorf("failed to add group: %w", err)
		}
		<-a.orchestrator.RequestGroupUpdate(ctx, fields.ID, groupsync.UpdateOptions{})

		group, err := a.store.LoadGroup(ctx, fields.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", group.ID, revisionString(group.Revision), group.Name)
		return nil
	},
}

func revisionString(rev *uint32) string {
	if rev == nil {
		return "-"
	}
	return fmt.Sprint(*rev)
}
