// Package common contains shared constants and sentinel errors used across
// agent and server components.
package common

// Header names carried on agent upload requests.
const (
	DeviceIDHeaderName      = "x-device-id"
	AuthorizationHeaderName = "Authorization"
	BearerPrefix            = "Bearer "
)

// Default batch sizes.
const (
	// UploadChunkSize bounds the number of items in one upload request.
	UploadChunkSize = 100
	// UploadChunkBytes bounds the encoded items of one upload request,
	// well under the server's body limit.
	UploadChunkBytes = 32 << 20
	// UpsertBatchSize bounds the number of rows in one upsert statement.
	UpsertBatchSize = 50
	// BackfillBatchSize is the progress granularity of a backfill run.
	BackfillBatchSize = 20
)
