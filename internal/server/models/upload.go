package models

// Upload modes.
const (
	UploadModeSingle    = "single"
	UploadModeMultipart = "multipart"
)

// PartCapability is a presigned URL authorizing the upload of one part of a
// multipart session.
type PartCapability struct {
	// PartNumber is the 1-based position of the part.
	PartNumber int32
	// URL is the presigned HTTP URL for the client to PUT the part bytes.
	URL string
}

// UploadPlan is returned by BeginUpload and instructs the client how to
// transfer the payload. No metadata row exists yet at this point; only a
// storage-side reservation.
type UploadPlan struct {
	// Key is the storage key reserved for the object.
	Key string
	// Mode is "single" or "multipart".
	Mode string

	// URL is the presigned PUT URL for single-shot uploads.
	URL string

	// SessionID is the storage-backend multipart session identifier.
	SessionID string
	// Parts holds one capability per part for multipart uploads.
	Parts []PartCapability
}

// UploadedPart is the client-reported outcome of transferring one part:
// its position and the integrity tag (ETag) returned by the backend.
type UploadedPart struct {
	PartNumber int32
	ETag       string
}

// UploadMetadata carries the caller-declared attributes applied to the
// metadata row when an upload completes.
type UploadMetadata struct {
	DisplayName string
	MimeType    string
	SizeBytes   int64
	// TTLSeconds is the requested time-to-live. Zero means the configured
	// default; negative means no expiry.
	TTLSeconds int64
}
