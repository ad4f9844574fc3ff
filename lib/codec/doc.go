// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding and decoding for
// the helper-channel wire format.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same logical message always produces identical bytes. Decoding
// ignores unknown fields, which is the forward-compatibility contract
// between the host supervisor and the in-sandbox helper binary: the
// two may be built from different releases of the same major version.
package codec
