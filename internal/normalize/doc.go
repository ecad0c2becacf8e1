// Package normalize converts raw connector payloads into canonical items.
//
// Normalization is a pure function of (source, type, payload, options). Each
// source system has a fixed extraction table: an ordered list of
// (canonical field, extractor, fallback) rules evaluated against the payload.
// Extractors never panic on unexpected shapes; they report absence and the
// rule's fallback applies.
//
// # Ambiguous fields
//
// Fields such as status may arrive as a bare string or as an object. The
// resolution order is fixed:
//
//  1. object: its "name" property, then its "displayName" property
//  2. string: the raw value
//  3. absent, null or any other shape: the caller-supplied default
//
// Resolved strings are trimmed and NFC normalized.
package normalize
