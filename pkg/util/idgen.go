package util

import (
	"strings"

	"github.com/google/uuid"
	snowflake "github.com/yockii/snowflake_ext"
)

var idGenerator *snowflake.Worker

// InitNode initializes the snowflake ID generator.
func InitNode(nodeID uint64) error {
	var err error
	idGenerator, err = snowflake.NewSnowflake(nodeID)
	if err != nil {
		return err
	}
	return nil
}

// NewID generates a new database record ID.
func NewID() uint64 {
	return idGenerator.NextId()
}

// NewOfferID generates a short unique identifier for one generation request,
// used for output folder and file names.
func NewOfferID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "oferta_" + id[:8]
}
