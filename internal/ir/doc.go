// Package ir provides the canonical record types for planmirror.
//
// This package contains the shared vocabulary of the sync core: canonical
// items, derived relations, watermarks and run records, plus the canonical
// JSON encoding and content hashes built on top of them. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Items are identified by (SourceSystem, ItemType, ExternalID)
//   - Relations carry no identity of their own beyond their content hash
//   - Raw payloads are stored as canonical JSON so equal documents compare equal
//   - All JSON tags use snake_case
package ir
