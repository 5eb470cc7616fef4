package imaging

import (
	"time"

	"github.com/google/uuid"
)

// Modality is the acquisition type of a screening image.
type Modality string

const (
	ModalityPapSmear   Modality = "pap-smear"
	ModalityColposcopy Modality = "colposcopy"
)

func ValidModality(m Modality) bool {
	return m == ModalityPapSmear || m == ModalityColposcopy
}

// ImageRecord ties an uploaded image to its episode. StorageReference points
// at the blob store object holding the pixel data; the record itself carries
// only metadata.
type ImageRecord struct {
	ID               uuid.UUID `db:"id" json:"id"`
	EpisodeID        uuid.UUID `db:"episode_id" json:"episode_id"`
	Modality         Modality  `db:"modality" json:"modality"`
	StorageReference string    `db:"storage_reference" json:"storage_reference"`
	UploadedBy       string    `db:"uploaded_by" json:"uploaded_by"`
	UploadedAt       time.Time `db:"uploaded_at" json:"uploaded_at"`
}
