// Package matbox provides a materials repository: named, owner-scoped
// documents ("materials") that carry a category and an append-only sequence of
// numbered versions whose bytes live in a content-addressed blob store.
//
// The Service interface orchestrates validation, content hashing and
// persistence. Repository implementations (memory, Postgres, SQLite) live
// under repo/, blob store backends (memory, filesystem, S3) under storage/,
// and the deduplicating content store that sits between the service and a
// blob store under contentstore/.
//
// Versioning Model
//
// A material is identified by (owner, name). Its versions are numbered 1..N
// without gaps and the highest number is the actual version. Version rows only
// reference content by hash, so identical bytes uploaded as different versions,
// different materials or by different owners are stored once.
package matbox
