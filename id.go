package ludari

import "github.com/ludari/ludari/id"

// ID is the primary identifier type for all Ludari entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
