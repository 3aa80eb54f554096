package model

import "time"

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Upload is an image that was stored in the blob store
type Upload struct {
	BaseModel
	Key         string    `json:"key"` // Blob store key (the original filename)
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Analysis is the outcome of one analyze call.
// The speech endpoint looks up the sentence by ID, so that concurrent callers
// never hear each other's announcements.
type Analysis struct {
	BaseModel
	ImageKey      string    `json:"imageKey"`
	Sentence      string    `json:"sentence"`
	Label         string    `json:"label"`      // Empty if nothing was found
	Prominence    float64   `json:"prominence"` // Normalized width + height of the selected instance
	NumDetections int       `json:"numDetections"`
	NumDrawn      int       `json:"numDrawn"`
	ShowObjects   bool      `json:"showObjects"`
	Width         int       `json:"width"`  // Output image width
	Height        int       `json:"height"` // Output image height
	CreatedAt     time.Time `json:"createdAt"`
}
