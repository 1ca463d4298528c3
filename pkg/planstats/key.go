// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package planstats

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// QueryFingerprint identifies a class of structurally identical queries
// (literals normalized away) within a namespace.
type QueryFingerprint uint64

// QueryKey identifies one tracked query: the namespace it ran in plus
// the fingerprint of its normalized text.
type QueryKey struct {
	NamespaceID uint32
	Fingerprint QueryFingerprint
}

func (k QueryKey) String() string {
	return fmt.Sprintf("%d/%016x", k.NamespaceID, uint64(k.Fingerprint))
}

// ConstructFingerprint hashes the normalized query text together with
// the namespace it belongs to. Including the namespace keeps identical
// text in different namespaces from colliding into one bucket.
func ConstructFingerprint(stmtNoConstants string, namespaceID uint32) QueryFingerprint {
	h := xxhash.New()
	_, _ = h.WriteString(stmtNoConstants)
	var ns [4]byte
	binary.LittleEndian.PutUint32(ns[:], namespaceID)
	_, _ = h.Write(ns[:])
	return QueryFingerprint(h.Sum64())
}
