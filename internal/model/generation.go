package model

import (
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ContentType string

const (
	ListingDescription ContentType = "listing_description"
	SocialMediaPost    ContentType = "social_media_post"
	EmailCampaign      ContentType = "email_campaign"
	FlyerCopy          ContentType = "flyer_copy"
	VideoScript        ContentType = "video_script"
	NeighborhoodGuide  ContentType = "neighborhood_guide"
)

func ValidContentType(t ContentType) bool {
	switch t {
	case ListingDescription, SocialMediaPost, EmailCampaign,
		FlyerCopy, VideoScript, NeighborhoodGuide:
		return true
	}
	return false
}

// Generation is one unit of produced marketing copy. Rows are append-only:
// created once by the usage tracker, never updated (except the export URL),
// and deletable only by the owning account. Deleting a row never decrements
// the owner's usage count.
type Generation struct {
	gorm.Model
	PublicID         string         `json:"id" gorm:"uniqueIndex;not null"`
	UserID           uint           `json:"user_id" gorm:"index;not null"`
	ContentType      ContentType    `json:"content_type" gorm:"index;not null"`
	Content          string         `json:"content" gorm:"type:text;not null"`
	PropertySnapshot datatypes.JSON `json:"property_snapshot"`
	PropertyAddress  string         `json:"property_address"`
	Slug             string         `json:"slug" gorm:"index"`
	WordCount        int            `json:"word_count"`
	ExportURL        string         `json:"export_url,omitempty"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}

func (g *Generation) BeforeCreate(tx *gorm.DB) error {
	if g.WordCount == 0 {
		g.WordCount = len(strings.Fields(g.Content))
	}
	return nil
}

// GenerationSummary is the history-listing shape.
type GenerationSummary struct {
	ID              string      `json:"id"`
	Content         string      `json:"content"`
	ContentType     ContentType `json:"content_type"`
	PropertyAddress string      `json:"property_address"`
	WordCount       int         `json:"word_count"`
	CreatedAt       string      `json:"created_at"`
}
