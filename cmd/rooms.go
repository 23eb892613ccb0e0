package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/smartclm/clm/internal/models"
	"github.com/spf13/cobra"
)

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Manage rooms",
	Long: `A room groups the documents of one contract negotiation. Contracts added to
a room are numbered v1, v2, ... in upload order.`,
}

var roomCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a room",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRoomCreate,
}

var roomShowCmd = &cobra.Command{
	Use:   "show [room-id]",
	Short: "Show a room and its documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoomShow,
}

var roomListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rooms",
	Args:  cobra.NoArgs,
	RunE:  runRoomList,
}

var roomDeleteCmd = &cobra.Command{
	Use:   "delete [room-id]",
	Short: "Soft delete a room",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoomDelete,
}

var (
	roomDescription string
	roomOwner       string
	roomJSON        bool
)

func init() {
	roomCreateCmd.Flags().StringVar(&roomDescription, "description", "", "room description")
	roomCreateCmd.Flags().StringVar(&roomOwner, "owner", "", "owner user id")
	roomListCmd.Flags().StringVar(&roomOwner, "owner", "", "only rooms of this owner")
	roomCmd.PersistentFlags().BoolVar(&roomJSON, "json", false, "output as JSON")

	roomCmd.AddCommand(roomCreateCmd, roomShowCmd, roomListCmd, roomDeleteCmd)
	rootCmd.AddCommand(roomCmd)
}

func runRoomCreate(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	room := &models.Room{Description: roomDescription, OwnerID: roomOwner}
	if len(args) == 1 {
		room.Name = args[0]
	}
	if err := docIndexer.CreateRoom(cmd.Context(), room); err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	if roomJSON {
		return printJSON(cmd, room)
	}
	cmd.Println(color.GreenString("✓ Created room %s", room.Name))
	cmd.Printf("  ID: %s\n", room.ID)
	return nil
}

func runRoomShow(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	detail, err := docIndexer.Room(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get room: %w", err)
	}
	if roomJSON {
		return printJSON(cmd, detail)
	}

	cmd.Printf("Room: %s\n\n", color.CyanString(detail.ID))
	cmd.Printf("  Name:      %s\n", detail.Name)
	if detail.Description != "" {
		cmd.Printf("  About:     %s\n", detail.Description)
	}
	if detail.OwnerID != "" {
		cmd.Printf("  Owner:     %s\n", detail.OwnerID)
	}
	cmd.Printf("  Created:   %s\n", detail.CreatedAt.Format("2006-01-02 15:04:05"))
	cmd.Printf("  Documents: %d\n\n", detail.DocumentCount)

	for _, doc := range detail.Documents {
		line := fmt.Sprintf("  %s  %-18s %s", doc.ID, doc.DocType, doc.Filename)
		if doc.Version != "" {
			line += " (" + doc.Version + ")"
		}
		cmd.Println(line)
	}
	return nil
}

func runRoomList(cmd *cobra.Command, _ []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	rooms, err := docIndexer.Rooms(cmd.Context(), roomOwner)
	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}
	if roomJSON {
		return printJSON(cmd, rooms)
	}
	if len(rooms) == 0 {
		cmd.Println("No rooms found.")
		return nil
	}
	for _, r := range rooms {
		cmd.Printf("  %s  %-24s %d documents\n", r.ID, r.Name, r.DocumentCount)
	}
	cmd.Printf("\nTotal: %d rooms\n", len(rooms))
	return nil
}

func runRoomDelete(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}
	if err := docIndexer.DeleteRoom(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	cmd.Println(color.GreenString("✓ Deleted room %s", args[0]))
	return nil
}
