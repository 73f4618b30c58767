// Package util provides small shared helpers: seeded string hashing used to
// derive shard and replica identifiers from human-readable names, and random
// seed generation for hash distribution.
package util
