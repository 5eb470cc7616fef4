package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient is the registry record episodes attach to. Demographics are kept
// minimal: this service coordinates screening workflow, not patient-record
// management.
type Patient struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	MRN       string     `db:"mrn" json:"mrn"` // medical record number, unique
	FullName  string     `db:"full_name" json:"full_name"`
	BirthDate *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}
