package domain

import "time"

// Redirect is a cloaked link: one public id, two destinations, and
// per-class hit counters maintained by the write-behind logger.
type Redirect struct {
	ID        int64     `json:"id" db:"id"`
	PublicID  string    `json:"public_id" db:"public_id"`
	HumanURL  string    `json:"human_url" db:"human_url"`
	BotURL    string    `json:"bot_url" db:"bot_url"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	TotalHits int64     `json:"total_hits" db:"total_hits"`
	HumanHits int64     `json:"human_hits" db:"human_hits"`
	BotHits   int64     `json:"bot_hits" db:"bot_hits"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DestinationFor returns the destination URL for a classification.
func (r *Redirect) DestinationFor(c Classification) string {
	if c == ClassBot {
		return r.BotURL
	}
	return r.HumanURL
}
