// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("journal - Offline-First Journal Sync Core")
	fmt.Println("=========================================")
	fmt.Println()
	fmt.Println("This module is the sync and caching layer of a personal journaling")
	fmt.Println("client: a local SQLite cache reconciled against an authoritative")
	fmt.Println("backend under partial connectivity.")
	fmt.Println()
	fmt.Println("Packages:")
	fmt.Println()
	fmt.Println("  journalsync/  Sync engine, local store, mutation pipeline and the")
	fmt.Println("                day-keyed draft/survey cache. Cache-first loads with")
	fmt.Println("                stale-while-revalidate, delta sync by server write")
	fmt.Println("                time, paginated backfill, remote-first mutations.")
	fmt.Println()
	fmt.Println("  remote/       Client for the backend HTTP API: paginated entry and")
	fmt.Println("                survey queries, writes, deletes and blob storage.")
	fmt.Println()
	fmt.Println("  auth/         Sign-in session helpers: user identity in contexts")
	fmt.Println("                and bearer-token subject extraction.")
	fmt.Println()
	fmt.Println("This is an embedded library layer consumed by a UI; there is no CLI.")
}
