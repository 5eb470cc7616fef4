package analysis

import (
	"time"

	"github.com/google/uuid"
)

// Category is a Bethesda-system cytology classification.
type Category string

const (
	CategoryNILM           Category = "nilm"
	CategoryASCUS          Category = "asc_us"
	CategoryASCH           Category = "asc_h"
	CategoryLSIL           Category = "lsil"
	CategoryHSIL           Category = "hsil"
	CategorySCC            Category = "scc"
	CategoryAGC            Category = "agc"
	CategoryAdenocarcinoma Category = "adenocarcinoma"
	CategoryUnsatisfactory Category = "unsatisfactory"
)

func ValidCategory(c Category) bool {
	switch c {
	case CategoryNILM, CategoryASCUS, CategoryASCH, CategoryLSIL, CategoryHSIL,
		CategorySCC, CategoryAGC, CategoryAdenocarcinoma, CategoryUnsatisfactory:
		return true
	}
	return false
}

// RegionAnnotation marks a region of interest in the image, with the model's
// confidence for that region. Coordinates are pixel offsets in the source
// image.
type RegionAnnotation struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Finding is the structured result of one model pass over one image. Findings
// are immutable once stored; re-running analysis for the same image and model
// version returns the existing finding rather than producing a duplicate.
type Finding struct {
	ID           uuid.UUID          `db:"id" json:"id"`
	ImageID      uuid.UUID          `db:"image_id" json:"image_id"`
	EpisodeID    uuid.UUID          `db:"episode_id" json:"episode_id"`
	RiskScore    float64            `db:"risk_score" json:"risk_score"` // [0, 1]
	Category     Category           `db:"category" json:"category"`
	Regions      []RegionAnnotation `db:"regions" json:"regions,omitempty"`
	ModelVersion string             `db:"model_version" json:"model_version"`
	Note         string             `db:"note" json:"note,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
}
