package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skekre98/dynconf/remote"
)

func newGetCommand(flags *rootFlags) *cobra.Command {
	var dataID string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch an entry's content and version tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := flags.client()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()

			content, tag, err := client.Fetch(ctx, flags.namespace, flags.group, dataID)
			if errors.Is(err, remote.ErrNotFound) {
				return fmt.Errorf("entry %s/%s/%s does not exist", flags.namespace, flags.group, dataID)
			}
			if err != nil {
				return err
			}
			fmt.Printf("# %s/%s/%s version=%s\n", flags.namespace, flags.group, dataID, tag)
			fmt.Println(string(content))
			return nil
		},
	}
	cmd.Flags().StringVar(&dataID, "data-id", "", "entry data id")
	_ = cmd.MarkFlagRequired("data-id")
	return cmd
}

func newPublishCommand(flags *rootFlags) *cobra.Command {
	var (
		dataID  string
		content string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Create or replace an entry",
		Long: `Create or replace an entry with inline --content or the contents of
--file. Services watching the entry apply the change within one poll
interval, without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readContent(content, file)
			if err != nil {
				return err
			}
			client, cleanup, err := flags.client()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()

			if err := client.Publish(ctx, flags.namespace, flags.group, dataID, body); err != nil {
				return err
			}
			fmt.Printf("published %s/%s/%s (%d bytes)\n", flags.namespace, flags.group, dataID, len(body))
			return nil
		},
	}
	cmd.Flags().StringVar(&dataID, "data-id", "", "entry data id")
	cmd.Flags().StringVar(&content, "content", "", "inline entry content")
	cmd.Flags().StringVar(&file, "file", "", "file to read entry content from")
	_ = cmd.MarkFlagRequired("data-id")
	return cmd
}

func newRemoveCommand(flags *rootFlags) *cobra.Command {
	var dataID string

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete an entry",
		Long: `Delete an entry. Services watching it revert the mapped attributes to
their configured defaults on their next rebuild.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := flags.client()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()

			err = client.Remove(ctx, flags.namespace, flags.group, dataID)
			if errors.Is(err, remote.ErrNotFound) {
				return fmt.Errorf("entry %s/%s/%s does not exist", flags.namespace, flags.group, dataID)
			}
			if err != nil {
				return err
			}
			fmt.Printf("removed %s/%s/%s\n", flags.namespace, flags.group, dataID)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataID, "data-id", "", "entry data id")
	_ = cmd.MarkFlagRequired("data-id")
	return cmd
}
