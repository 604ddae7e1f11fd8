package domain

// UnknownAuthor is shown when the profile lookup has no entry
const UnknownAuthor = "Unknown"

// Profile is the display identity of an author (chat_profiles), owned by
// the profile service and only read here
type Profile struct {
	UserID      string `gorm:"column:user_id;primaryKey;size:64" json:"user_id"`
	DisplayName string `gorm:"column:display_name;size:100" json:"display_name"`
	AvatarURL   string `gorm:"column:avatar_url;size:500" json:"avatar_url,omitempty"`
}

// TableName returns the table name for profiles
func (Profile) TableName() string {
	return "chat_profiles"
}
