package domain

import (
	"fmt"
	"time"
)

// ItemType represents the type of a searchable item
type ItemType string

const (
	ItemTypeConversation ItemType = "conversation"
	ItemTypeIssue        ItemType = "issue"
	ItemTypeFeature      ItemType = "feature"
	ItemTypeDocument     ItemType = "document"
)

// Item represents a searchable item in the corpus
type Item struct {
	ID         string
	Type       ItemType
	Title      string
	Body       string
	Tags       []string
	OwnerScope string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewItem creates a new Item instance
func NewItem(
	id string,
	itemType ItemType,
	title, body string,
	tags []string,
	ownerScope string,
	createdAt, updatedAt time.Time,
) *Item {
	return &Item{
		ID:         id,
		Type:       itemType,
		Title:      title,
		Body:       body,
		Tags:       tags,
		OwnerScope: ownerScope,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
}

// ValidateItem validates an Item instance
func ValidateItem(i *Item) error {
	if i == nil {
		return fmt.Errorf("item cannot be nil")
	}

	if i.ID == "" {
		return fmt.Errorf("item ID is required")
	}

	if i.OwnerScope == "" {
		return fmt.Errorf("item OwnerScope is required")
	}

	if !isValidItemType(i.Type) {
		return fmt.Errorf("item Type is invalid: %s", i.Type)
	}

	if i.Title == "" && i.Body == "" {
		return fmt.Errorf("item must have a Title or a Body")
	}

	return nil
}

// isValidItemType checks if an ItemType is valid
func isValidItemType(t ItemType) bool {
	switch t {
	case ItemTypeConversation, ItemTypeIssue, ItemTypeFeature, ItemTypeDocument:
		return true
	}
	return false
}
