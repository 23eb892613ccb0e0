package indexer

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/smartclm/clm/internal/models"
)

const defaultRoomName = "Untitled"

// CreateRoom stores a new room. An empty ID gets a fresh UUID and an empty
// name becomes "Untitled".
func (ix *Indexer) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	room.Name = strings.TrimSpace(room.Name)
	if room.Name == "" {
		room.Name = defaultRoomName
	}
	if err := ix.config.Store.CreateRoom(ctx, room); err != nil {
		return err
	}
	ix.log.Info("room created", "room_id", room.ID, "owner_id", room.OwnerID)
	return nil
}

// RoomDetail is a room with its live documents.
type RoomDetail struct {
	models.Room
	Documents []models.Document `json:"documents"`
}

// Room returns a room and the documents stored in it.
func (ix *Indexer) Room(ctx context.Context, id string) (*RoomDetail, error) {
	room, err := ix.config.Store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	docs, err := ix.config.Store.ListDocuments(ctx, models.DocumentFilter{RoomID: id})
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return &RoomDetail{Room: *room, Documents: docs}, nil
}

// Rooms lists the rooms of an owner, or every room for an empty owner.
func (ix *Indexer) Rooms(ctx context.Context, ownerID string) ([]models.Room, error) {
	return ix.config.Store.ListRooms(ctx, ownerID)
}

// DeleteRoom soft deletes a room. Its documents are left as they are.
func (ix *Indexer) DeleteRoom(ctx context.Context, id string) error {
	if err := ix.config.Store.SoftDeleteRoom(ctx, id); err != nil {
		return err
	}
	ix.log.Info("room deleted", "room_id", id)
	return nil
}
