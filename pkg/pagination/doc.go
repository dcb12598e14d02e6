// Package pagination walks HAL paginated collections of the hardware API.
//
// A collection page embeds its items under _embedded.item and points at the
// following page with _links.next.href. The last page omits the next link.
// Since each page only names its successor, pages are fetched one after the
// other; a collection of N pages costs exactly N requests.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(apiClient, pagination.DefaultConfig())
//	boards, err := fetcher.FetchAll(ctx, pagination.DefaultStartPath)
//
// The fetcher:
//   - Requests the embedded representation so items arrive inline
//   - Treats a missing _embedded.item as an empty page
//   - Stops at the first page without a next link
//   - Aborts on the first error without returning partial results
package pagination
