// Package ingest is an OAuth-aware data ingestion SDK. It manages
// provider credentials end to end, from PKCE authorization through
// encrypted storage to proactive, deduplicated refresh, and fetches user
// data through a governed HTTP pipeline with per-provider rate limits,
// circuit breakers, bounded retries, and ETag revalidation. Records from
// every provider come back in one normalized item shape.
//
// Use New for an owned instance, or Init plus the package-level
// functions for the process-wide one:
//
//	if err := ingest.Init(); err != nil {
//		log.Fatal(err)
//	}
//	url, _ := ingest.Connect(ctx, "github", userID, nil)
//	// ... user authorizes, the provider redirects back ...
//	_, err := ingest.HandleCallback(ctx, "github", userID, callbackParams)
//	items, err := ingest.Fetch(ctx, "github", userID, map[string]string{"type": "starred"})
package ingest
