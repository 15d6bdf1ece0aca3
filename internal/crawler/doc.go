// Package crawler implements the bounded two-phase crawl: the listing
// pagination loop, the detail enrichment pass, and the types and interfaces
// shared by the fetchers, extractors and sinks that plug into it.
package crawler
