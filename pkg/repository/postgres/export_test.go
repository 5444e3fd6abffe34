package postgres

var NormalizeMetadata = normalizeMetadata
